// Package entitlement evaluates and mutates premium feature grants. Grants
// live on the user record; every mutation loads a fresh copy, applies the
// change, and commits it in one write, so a failed write leaves nothing
// half-applied in memory.
package entitlement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/user"
)

// Store is the subset of the user record store the service needs.
type Store interface {
	Get(ctx context.Context, id int64) (*user.User, error)
	Upsert(ctx context.Context, u *user.User) error
	MarkCharge(ctx context.Context, chargeID string) (bool, error)
	UnmarkCharge(ctx context.Context, chargeID string) error
}

// PaymentEvent is a payment-provider confirmation delivered to Grant.
type PaymentEvent struct {
	UserID   int64
	Code     SKU
	ChargeID string
}

// Service implements the entitlement store operations.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates an entitlement service over the given record store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Has reports whether the user currently holds an active grant for f.
func (s *Service) Has(ctx context.Context, userID int64, f user.Feature) (bool, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.HasFeature(f, s.now()), nil
}

// Grant applies a catalog SKU to the user's grant map. Duration horizons
// merge as max(existing, new); counters add; the aggregate premium horizon
// tracks the furthest duration grant.
func (s *Service) Grant(ctx context.Context, userID int64, code SKU) error {
	effects, ok := catalog[code]
	if !ok {
		return fmt.Errorf("unknown sku %q: %w", code, errs.ErrValidation)
	}

	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now()
	for _, e := range effects {
		g := u.Grants[e.feature]
		switch e.feature.Kind() {
		case user.EffectDuration:
			horizon := now.Add(e.dur)
			if horizon.After(g.Until) {
				g.Until = horizon
			}
			if g.Until.After(u.PremiumUntil) {
				u.PremiumUntil = g.Until
			}
		case user.EffectCounter:
			g.Credits += e.credits
		default:
			g.Enabled = true
		}
		u.Grants[e.feature] = g
	}

	return s.store.Upsert(ctx, u)
}

// GrantPayment redeems a payment confirmation. Unknown codes and replayed
// charge IDs are rejected with no mutation.
func (s *Service) GrantPayment(ctx context.Context, ev PaymentEvent) error {
	if !KnownSKU(ev.Code) {
		return fmt.Errorf("unknown sku %q: %w", ev.Code, errs.ErrValidation)
	}

	fresh, err := s.store.MarkCharge(ctx, ev.ChargeID)
	if err != nil {
		return err
	}
	if !fresh {
		return fmt.Errorf("charge %s already redeemed: %w", ev.ChargeID, errs.ErrConflict)
	}

	// A failed grant must not burn the charge: release it so the
	// provider's redelivery of the same confirmation can succeed.
	if err := s.Grant(ctx, ev.UserID, ev.Code); err != nil {
		if uerr := s.store.UnmarkCharge(ctx, ev.ChargeID); uerr != nil {
			log.Printf("[entitlement] release charge %s: %v", ev.ChargeID, uerr)
		}
		return err
	}
	return nil
}

// Revoke clears the entire grant map and the aggregate horizon.
func (s *Service) Revoke(ctx context.Context, userID int64) error {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}

	u.Grants = make(map[user.Feature]user.Grant)
	u.PremiumUntil = time.Time{}
	return s.store.Upsert(ctx, u)
}

// ConsumeRematch decrements the rematch credit counter by one. Called only
// on a confirmed reconnection, never on request creation.
func (s *Service) ConsumeRematch(ctx context.Context, userID int64) error {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}

	g := u.Grants[user.FeatureRematch]
	if g.Credits <= 0 {
		return fmt.Errorf("no rematch credits: %w", errs.ErrConflict)
	}
	g.Credits--
	u.Grants[user.FeatureRematch] = g
	return s.store.Upsert(ctx, u)
}
