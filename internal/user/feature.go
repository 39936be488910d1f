package user

import "time"

// Feature is the closed enumeration of entitlement kinds. Each feature has
// exactly one effect shape (duration horizon, consumable counter, or flag);
// see Kind.
type Feature string

const (
	// FeaturePriority places the holder in the priority queue segment.
	FeaturePriority Feature = "queue_priority"

	// FeatureVault enables the per-user message log.
	FeatureVault Feature = "chat_vault"

	// FeatureDetails reveals extended partner profile details in the
	// introduction card.
	FeatureDetails Feature = "partner_details"

	// FeatureBadge shows a verified badge on the profile card.
	FeatureBadge Feature = "verified_badge"

	// FeatureMood includes the mood field in matching introductions.
	FeatureMood Feature = "mood_match"

	// FeatureRematch is the consumable rematch credit counter.
	FeatureRematch Feature = "rematch_credits"
)

// EffectKind describes how a grant for a feature is evaluated.
type EffectKind int

const (
	EffectDuration EffectKind = iota // active while Until > now
	EffectCounter                    // active while Credits > 0
	EffectBoolean                    // active while Enabled
)

// Kind returns the effect shape for a feature. Unknown features evaluate as
// boolean so they stay inert unless explicitly enabled.
func (f Feature) Kind() EffectKind {
	switch f {
	case FeaturePriority, FeatureVault, FeatureDetails, FeatureBadge, FeatureMood:
		return EffectDuration
	case FeatureRematch:
		return EffectCounter
	default:
		return EffectBoolean
	}
}

// Grant is the stored effect of one feature. Only the field matching the
// feature's Kind is meaningful.
type Grant struct {
	Until   time.Time `json:"until,omitempty"`
	Credits int       `json:"credits,omitempty"`
	Enabled bool      `json:"enabled,omitempty"`
}

// Active evaluates a grant at the given instant.
func (g Grant) Active(f Feature, now time.Time) bool {
	switch f.Kind() {
	case EffectDuration:
		return g.Until.After(now)
	case EffectCounter:
		return g.Credits > 0
	default:
		return g.Enabled
	}
}

// HasFeature evaluates a feature on the record at the given instant.
func (u *User) HasFeature(f Feature, now time.Time) bool {
	g, ok := u.Grants[f]
	if !ok {
		return false
	}
	return g.Active(f, now)
}
