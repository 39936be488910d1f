package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/user"
)

func newTestService(t *testing.T) (*Service, *user.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := user.NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewService(store), store
}

func seedUser(t *testing.T, store *user.Store, id int64) {
	t.Helper()
	u := user.New(id, time.Now())
	u.Cursor = user.StepDone
	if err := store.Upsert(context.Background(), u); err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
}

func TestGrant_DurationWindow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, 1)

	start := time.Now()
	svc.now = func() time.Time { return start }

	if err := svc.Grant(ctx, 1, SKUPriority7d); err != nil {
		t.Fatalf("Grant() error: %v", err)
	}

	// Active throughout [start, start+7d).
	for _, offset := range []time.Duration{0, time.Hour, 7*24*time.Hour - time.Second} {
		svc.now = func() time.Time { return start.Add(offset) }
		has, err := svc.Has(ctx, 1, user.FeaturePriority)
		if err != nil {
			t.Fatalf("Has() error: %v", err)
		}
		if !has {
			t.Errorf("expected priority active at +%v", offset)
		}
	}

	// Inactive at exactly start+7d.
	svc.now = func() time.Time { return start.Add(7 * 24 * time.Hour) }
	has, err := svc.Has(ctx, 1, user.FeaturePriority)
	if err != nil {
		t.Fatalf("Has() error: %v", err)
	}
	if has {
		t.Error("expected priority inactive at the horizon")
	}
}

func TestGrant_PremiumPassBundle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, 2)

	start := time.Now()
	svc.now = func() time.Time { return start }

	if err := svc.Grant(ctx, 2, SKUPremiumPass30d); err != nil {
		t.Fatalf("Grant() error: %v", err)
	}

	u, err := store.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	horizon := start.Add(premiumPassDuration)
	for _, f := range []user.Feature{
		user.FeaturePriority, user.FeatureVault, user.FeatureDetails,
		user.FeatureBadge, user.FeatureMood,
	} {
		g, ok := u.Grants[f]
		if !ok {
			t.Fatalf("missing grant for %s", f)
		}
		if !g.Until.Equal(horizon) {
			t.Errorf("%s horizon = %v, want %v", f, g.Until, horizon)
		}
	}

	if got := u.Grants[user.FeatureRematch].Credits; got != premiumPassCredits {
		t.Errorf("rematch credits = %d, want %d", got, premiumPassCredits)
	}
	if !u.PremiumUntil.Equal(horizon) {
		t.Errorf("aggregate horizon = %v, want %v", u.PremiumUntil, horizon)
	}

	// Reads are idempotent: evaluating twice changes nothing.
	for i := 0; i < 2; i++ {
		has, err := svc.Has(ctx, 2, user.FeatureVault)
		if err != nil || !has {
			t.Fatalf("Has(vault) = %v, %v; want true, nil", has, err)
		}
	}
}

func TestGrant_HorizonMaxMerge(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, 3)

	start := time.Now()
	svc.now = func() time.Time { return start }

	// 30d vault grant, then the 30d bundle: horizon must not regress,
	// and a shorter grant never shortens an existing one.
	if err := svc.Grant(ctx, 3, SKUVault30d); err != nil {
		t.Fatalf("Grant() error: %v", err)
	}
	svc.now = func() time.Time { return start.Add(-time.Hour) }
	if err := svc.Grant(ctx, 3, SKUVault30d); err != nil {
		t.Fatalf("Grant() error: %v", err)
	}

	u, _ := store.Get(ctx, 3)
	want := start.Add(30 * 24 * time.Hour)
	if got := u.Grants[user.FeatureVault].Until; !got.Equal(want) {
		t.Errorf("horizon = %v, want %v (max of both grants)", got, want)
	}
}

func TestGrant_UnknownSKU(t *testing.T) {
	svc, store := newTestService(t)
	seedUser(t, store, 4)

	err := svc.Grant(context.Background(), 4, SKU("mystery_box"))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGrantPayment_DuplicateCharge(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, 5)

	ev := PaymentEvent{UserID: 5, Code: SKURematchPack5, ChargeID: "ch_123"}
	if err := svc.GrantPayment(ctx, ev); err != nil {
		t.Fatalf("first GrantPayment() error: %v", err)
	}

	err := svc.GrantPayment(ctx, ev)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict on replay, got %v", err)
	}

	// The replay must not have granted anything extra.
	u, _ := store.Get(ctx, 5)
	if got := u.Grants[user.FeatureRematch].Credits; got != 5 {
		t.Errorf("credits = %d, want 5", got)
	}
}

// flakyStore fails the next n Upserts, then behaves normally.
type flakyStore struct {
	*user.Store
	failures int
}

func (s *flakyStore) Upsert(ctx context.Context, u *user.User) error {
	if s.failures > 0 {
		s.failures--
		return errors.Join(errs.ErrPersistence, errors.New("write refused"))
	}
	return s.Store.Upsert(ctx, u)
}

func TestGrantPayment_FailedGrantReleasesCharge(t *testing.T) {
	_, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, 8)

	flaky := &flakyStore{Store: store, failures: 1}
	svc := NewService(flaky)

	ev := PaymentEvent{UserID: 8, Code: SKURematchPack5, ChargeID: "ch_456"}
	if err := svc.GrantPayment(ctx, ev); !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("expected the grant failure to surface, got %v", err)
	}

	// The provider redelivers the same confirmation. The charge must not
	// have been burned by the failed attempt.
	if err := svc.GrantPayment(ctx, ev); err != nil {
		t.Fatalf("redelivery after failed grant: %v", err)
	}
	u, _ := store.Get(ctx, 8)
	if got := u.Grants[user.FeatureRematch].Credits; got != 5 {
		t.Errorf("credits = %d, want 5", got)
	}
}

func TestRevoke_ClearsEverything(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, 6)

	if err := svc.Grant(ctx, 6, SKUPremiumPass30d); err != nil {
		t.Fatalf("Grant() error: %v", err)
	}
	if err := svc.Revoke(ctx, 6); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	u, _ := store.Get(ctx, 6)
	if len(u.Grants) != 0 {
		t.Errorf("grants not cleared: %v", u.Grants)
	}
	if !u.PremiumUntil.IsZero() {
		t.Errorf("aggregate horizon not cleared: %v", u.PremiumUntil)
	}
}

func TestConsumeRematch(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, 7)

	err := svc.ConsumeRematch(ctx, 7)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict with zero credits, got %v", err)
	}

	if err := svc.Grant(ctx, 7, SKURematchPack5); err != nil {
		t.Fatalf("Grant() error: %v", err)
	}
	if err := svc.ConsumeRematch(ctx, 7); err != nil {
		t.Fatalf("ConsumeRematch() error: %v", err)
	}

	u, _ := store.Get(ctx, 7)
	if got := u.Grants[user.FeatureRematch].Credits; got != 4 {
		t.Errorf("credits = %d, want 4", got)
	}
}
