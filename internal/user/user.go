// Package user holds the domain model for chat participants: profile data
// produced by onboarding, entitlement grants, ban state, and the Redis-backed
// record store. All other packages operate on these types.
package user

import "time"

// Profile field limits enforced by onboarding and settings.
const (
	MaxNameLen     = 50
	MaxLocationLen = 100
	MinAge         = 18
	MaxAge         = 120
	MaxTags        = 5
)

// Gender is the closed set of profile gender values.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// ValidGender reports whether g is one of the allowed values.
func ValidGender(g Gender) bool {
	return g == GenderMale || g == GenderFemale || g == GenderOther
}

// OnboardingStep is the cursor of the profile collection state machine.
// StepDone means the profile is complete.
type OnboardingStep string

const (
	StepConsent  OnboardingStep = "consent"
	StepName     OnboardingStep = "name"
	StepAge      OnboardingStep = "age"
	StepGender   OnboardingStep = "gender"
	StepLocation OnboardingStep = "location"
	StepDone     OnboardingStep = "done"
)

// AllowedTags is the closed set of interest tags a profile may carry.
var AllowedTags = map[string]bool{
	"music":  true,
	"gaming": true,
	"movies": true,
	"books":  true,
	"travel": true,
	"sports": true,
	"food":   true,
	"tech":   true,
	"art":    true,
	"memes":  true,
}

// Profile is the user-visible part of a record. PastPartners is append-only
// and ordered oldest first.
type Profile struct {
	Name         string  `json:"name"`
	Age          int     `json:"age"`
	Gender       Gender  `json:"gender"`
	Location     string  `json:"location"`
	Tags         []string `json:"tags,omitempty"`
	Mood         string  `json:"mood,omitempty"`
	PastPartners []int64 `json:"past_partners,omitempty"`
}

// MatchedBefore reports whether id appears in the partner history.
func (p *Profile) MatchedBefore(id int64) bool {
	for _, pid := range p.PastPartners {
		if pid == id {
			return true
		}
	}
	return false
}

// User is the full per-user record persisted as one document, so that
// profile, entitlement and ban fields always commit together.
type User struct {
	ID           int64             `json:"id"`
	Profile      Profile           `json:"profile"`
	Consent      bool              `json:"consent"`
	Verified     bool              `json:"verified"`
	Grants       map[Feature]Grant `json:"grants,omitempty"`
	PremiumUntil time.Time         `json:"premium_until,omitempty"`
	Ban          BanState          `json:"ban,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Cursor       OnboardingStep    `json:"cursor"`

	// SettingsEdit is set when the cursor was sought to a single field
	// from settings; the next successful input returns to StepDone
	// instead of advancing through the remaining sequence.
	SettingsEdit bool `json:"settings_edit,omitempty"`
}

// New returns a fresh record positioned at the consent step.
func New(id int64, now time.Time) *User {
	return &User{
		ID:        id,
		Grants:    make(map[Feature]Grant),
		CreatedAt: now,
		Cursor:    StepConsent,
	}
}

// Complete reports whether onboarding has finished for this record.
func (u *User) Complete() bool {
	return u.Cursor == StepDone
}

// AppendPartner records a past partner. Duplicates are allowed: the history
// is an ordered log of pairings, not a set.
func (u *User) AppendPartner(id int64) {
	u.Profile.PastPartners = append(u.Profile.PastPartners, id)
}
