// Package onboarding drives the sequential profile collection flow:
// consent, name, age, gender, location. Each step validates its input and
// re-prompts on failure without advancing or persisting; a user returning
// mid-flow resumes at the stored cursor. Settings can seek directly to a
// single field, in which case a successful input returns straight to done.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/user"
)

// Store is the subset of the user record store the flow needs.
type Store interface {
	Get(ctx context.Context, id int64) (*user.User, error)
	Upsert(ctx context.Context, u *user.User) error
	Delete(ctx context.Context, id int64) error
}

// Screener checks free-text profile fields against the content filter.
type Screener interface {
	Screen(text string) string
}

// Result describes where the flow stands after an input.
type Result struct {
	Next       user.OnboardingStep
	Terminated bool // consent declined, record removed
}

// stepHandler applies one input to the record. It mutates the record only
// when the input is valid.
type stepHandler func(s *Service, u *user.User, input string) error

// steps is the dispatch table keyed by cursor. The closed enumeration plus
// this table replaces per-handler state constants; an unknown cursor is a
// programming error, not a runtime branch.
var steps map[user.OnboardingStep]stepHandler

func init() {
	// Assigned in init to avoid an initialization cycle with the
	// handler functions referencing Service.
	steps = map[user.OnboardingStep]stepHandler{
		user.StepConsent:  (*Service).applyConsent,
		user.StepName:     (*Service).applyName,
		user.StepAge:      (*Service).applyAge,
		user.StepGender:   (*Service).applyGender,
		user.StepLocation: (*Service).applyLocation,
	}
}

// order is the forward sequence of the flow.
var order = []user.OnboardingStep{
	user.StepConsent,
	user.StepName,
	user.StepAge,
	user.StepGender,
	user.StepLocation,
	user.StepDone,
}

// Service runs the onboarding flow over the record store.
type Service struct {
	store  Store
	screen Screener
	now    func() time.Time
}

// NewService creates the onboarding service.
func NewService(store Store, screen Screener) *Service {
	return &Service{store: store, screen: screen, now: time.Now}
}

// Begin returns the user's current step, creating a fresh record positioned
// at consent on first contact. A returning user resumes at the stored
// cursor rather than restarting.
func (s *Service) Begin(ctx context.Context, userID int64) (user.OnboardingStep, error) {
	u, err := s.store.Get(ctx, userID)
	if err == nil {
		return u.Cursor, nil
	}
	if !isNotFound(err) {
		return "", err
	}

	u = user.New(userID, s.now())
	if err := s.store.Upsert(ctx, u); err != nil {
		return "", err
	}
	return u.Cursor, nil
}

// Input applies text to the user's current step. On validation failure the
// cursor stays put and nothing is persisted; the caller re-prompts the same
// step. Declining consent terminates the flow and removes the record.
func (s *Service) Input(ctx context.Context, userID int64, text string) (Result, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if u.Complete() {
		return Result{Next: user.StepDone}, nil
	}

	handler, ok := steps[u.Cursor]
	if !ok {
		return Result{}, fmt.Errorf("onboarding: no handler for step %q", u.Cursor)
	}

	if err := handler(s, u, strings.TrimSpace(text)); err != nil {
		return Result{Next: u.Cursor}, err
	}

	// Declined consent: terminate with no profile.
	if u.Cursor == user.StepConsent && !u.Consent {
		if err := s.store.Delete(ctx, userID); err != nil {
			return Result{}, err
		}
		return Result{Terminated: true}, nil
	}

	if u.SettingsEdit {
		u.Cursor = user.StepDone
		u.SettingsEdit = false
	} else {
		u.Cursor = advance(u.Cursor)
	}

	if err := s.store.Upsert(ctx, u); err != nil {
		return Result{}, err
	}
	return Result{Next: u.Cursor}, nil
}

// Seek positions a completed user directly at one field for a settings
// edit. The next successful input returns to done instead of walking the
// rest of the sequence.
func (s *Service) Seek(ctx context.Context, userID int64, step user.OnboardingStep) error {
	if _, ok := steps[step]; !ok || step == user.StepConsent {
		return fmt.Errorf("cannot edit %q: %w", step, errs.ErrValidation)
	}

	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !u.Complete() {
		return fmt.Errorf("finish onboarding first: %w", errs.ErrConflict)
	}

	u.Cursor = step
	u.SettingsEdit = true
	return s.store.Upsert(ctx, u)
}

// SetTags replaces the profile tags. Tags must come from the allowed set,
// at most user.MaxTags of them.
func (s *Service) SetTags(ctx context.Context, userID int64, tags []string) error {
	if len(tags) > user.MaxTags {
		return fmt.Errorf("at most %d tags: %w", user.MaxTags, errs.ErrValidation)
	}
	cleaned := make([]string, 0, len(tags))
	seen := make(map[string]bool)
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if !user.AllowedTags[tag] {
			return fmt.Errorf("unknown tag %q: %w", tag, errs.ErrValidation)
		}
		if !seen[tag] {
			seen[tag] = true
			cleaned = append(cleaned, tag)
		}
	}

	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	u.Profile.Tags = cleaned
	return s.store.Upsert(ctx, u)
}

// SetMood sets the profile mood line.
func (s *Service) SetMood(ctx context.Context, userID int64, mood string) error {
	mood = strings.TrimSpace(mood)
	if utf8.RuneCountInString(mood) > user.MaxNameLen {
		return fmt.Errorf("mood too long: %w", errs.ErrValidation)
	}
	if term := s.screen.Screen(mood); term != "" {
		return fmt.Errorf("mood contains a blocked term: %w", errs.ErrValidation)
	}

	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	u.Profile.Mood = mood
	return s.store.Upsert(ctx, u)
}

func (s *Service) applyConsent(u *user.User, input string) error {
	switch strings.ToLower(input) {
	case "yes", "y", "agree":
		u.Consent = true
		return nil
	case "no", "n", "decline":
		u.Consent = false
		return nil
	default:
		return fmt.Errorf("answer yes or no: %w", errs.ErrValidation)
	}
}

func (s *Service) applyName(u *user.User, input string) error {
	if input == "" || utf8.RuneCountInString(input) > user.MaxNameLen {
		return fmt.Errorf("name must be 1-%d characters: %w", user.MaxNameLen, errs.ErrValidation)
	}
	if term := s.screen.Screen(input); term != "" {
		return fmt.Errorf("name contains a blocked term: %w", errs.ErrValidation)
	}
	u.Profile.Name = input
	return nil
}

func (s *Service) applyAge(u *user.User, input string) error {
	age, err := strconv.Atoi(input)
	if err != nil || age < user.MinAge || age > user.MaxAge {
		return fmt.Errorf("age must be a number between %d and %d: %w",
			user.MinAge, user.MaxAge, errs.ErrValidation)
	}
	u.Profile.Age = age
	return nil
}

func (s *Service) applyGender(u *user.User, input string) error {
	g := user.Gender(strings.ToLower(input))
	if !user.ValidGender(g) {
		return fmt.Errorf("choose male, female or other: %w", errs.ErrValidation)
	}
	u.Profile.Gender = g
	return nil
}

func (s *Service) applyLocation(u *user.User, input string) error {
	if input == "" || utf8.RuneCountInString(input) > user.MaxLocationLen {
		return fmt.Errorf("location must be 1-%d characters: %w", user.MaxLocationLen, errs.ErrValidation)
	}
	if term := s.screen.Screen(input); term != "" {
		return fmt.Errorf("location contains a blocked term: %w", errs.ErrValidation)
	}
	u.Profile.Location = input
	return nil
}

func advance(step user.OnboardingStep) user.OnboardingStep {
	for i, s := range order {
		if s == step && i+1 < len(order) {
			return order[i+1]
		}
	}
	return user.StepDone
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
