// Package messaging defines the outbound notification contract between the
// engine and whatever fronts it: typed payloads, the Transport interface,
// and the Telegram and NATS implementations. Delivery is best-effort: the
// engine logs failures and continues.
package messaging

// Kind identifies what a payload announces. Transports decide rendering.
type Kind string

const (
	KindSystem          Kind = "system"
	KindChatMessage     Kind = "chat_message"
	KindMatchFound      Kind = "match_found"
	KindPartnerLeft     Kind = "partner_left"
	KindRematchOffer    Kind = "rematch_offer"
	KindRematchSent     Kind = "rematch_sent"
	KindRematchAccepted Kind = "rematch_accepted"
	KindRematchDeclined Kind = "rematch_declined"
	KindRematchExpired  Kind = "rematch_expired"
	KindBanned          Kind = "banned"
	KindBroadcast       Kind = "broadcast"
	KindPrompt          Kind = "prompt"
)

// ProfileCard is the partner profile snapshot attached to introductions.
// Extended indicates the recipient holds the partner-details entitlement and
// may see location, tags and mood.
type ProfileCard struct {
	Name     string   `json:"name"`
	Age      int      `json:"age"`
	Gender   string   `json:"gender"`
	Location string   `json:"location,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Mood     string   `json:"mood,omitempty"`
	Verified bool     `json:"verified,omitempty"`
	Extended bool     `json:"extended,omitempty"`
}

// Action is an affordance attached to a payload (accept/decline, choices).
// Telegram renders these as inline keyboard buttons; the NATS transport
// forwards them verbatim.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Payload is one outbound notification.
type Payload struct {
	Kind    Kind         `json:"kind"`
	Text    string       `json:"text,omitempty"`
	Profile *ProfileCard `json:"profile,omitempty"`
	Actions []Action     `json:"actions,omitempty"`
}
