package user

import "time"

// BanKind is the stored ban state: none, temporary with an expiry, or
// permanent.
type BanKind string

const (
	BanNone      BanKind = ""
	BanTemporary BanKind = "temporary"
	BanPermanent BanKind = "permanent"
)

// BanState is the stored ban field. A temporary ban keeps its record past
// the expiry: enforcement is evaluated lazily by Enforced, and only an
// explicit unban clears the field.
type BanState struct {
	Kind    BanKind   `json:"kind,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Enforced reports whether the ban blocks operations at the given instant.
// An expired temporary ban is not enforced even though it remains stored.
func (b BanState) Enforced(now time.Time) bool {
	switch b.Kind {
	case BanPermanent:
		return true
	case BanTemporary:
		return b.Expires.After(now)
	default:
		return false
	}
}

// Temporary returns a temporary ban expiring after d.
func Temporary(now time.Time, d time.Duration, reason string) BanState {
	return BanState{Kind: BanTemporary, Expires: now.Add(d), Reason: reason}
}

// Permanent returns a permanent ban.
func Permanent(reason string) BanState {
	return BanState{Kind: BanPermanent, Reason: reason}
}
