package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chatdude/anonchat/internal/errs"
)

func TestBanState_Enforced(t *testing.T) {
	now := time.Unix(1000, 0)

	tests := []struct {
		name     string
		ban      BanState
		enforced bool
	}{
		{"no ban", BanState{}, false},
		{"permanent", Permanent("spam"), true},
		{"temporary active", Temporary(now, time.Hour, "reports"), true},
		{"temporary expired", Temporary(now.Add(-2*time.Hour), time.Hour, "reports"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ban.Enforced(now); got != tt.enforced {
				t.Errorf("Enforced() = %v, want %v", got, tt.enforced)
			}
		})
	}
}

func TestBanState_ExpiredKeepsRecord(t *testing.T) {
	now := time.Unix(1000, 0)
	ban := Temporary(now, time.Hour, "reports")

	later := now.Add(2 * time.Hour)
	if ban.Enforced(later) {
		t.Fatal("expired ban must not be enforced")
	}
	// The stored field survives expiry; only an explicit unban clears it.
	if ban.Kind != BanTemporary || ban.Reason != "reports" {
		t.Errorf("stored ban mutated: %+v", ban)
	}
}

func TestHasFeature(t *testing.T) {
	now := time.Unix(1000, 0)
	u := New(1, now)

	if u.HasFeature(FeatureVault, now) {
		t.Error("fresh user holds no features")
	}

	u.Grants[FeatureVault] = Grant{Until: now.Add(time.Hour)}
	u.Grants[FeatureRematch] = Grant{Credits: 2}

	if !u.HasFeature(FeatureVault, now) {
		t.Error("duration grant inside its window must be active")
	}
	if u.HasFeature(FeatureVault, now.Add(2*time.Hour)) {
		t.Error("duration grant past its horizon must be inactive")
	}
	if !u.HasFeature(FeatureRematch, now) {
		t.Error("counter grant with credits must be active")
	}

	u.Grants[FeatureRematch] = Grant{Credits: 0}
	if u.HasFeature(FeatureRematch, now) {
		t.Error("counter grant at zero must be inactive")
	}
}

func TestAppendPartner_OrderedLog(t *testing.T) {
	u := New(1, time.Now())
	u.AppendPartner(2)
	u.AppendPartner(3)
	u.AppendPartner(2)

	if len(u.Profile.PastPartners) != 3 {
		t.Fatalf("history = %v, duplicates must be kept", u.Profile.PastPartners)
	}
	if !u.Profile.MatchedBefore(3) || u.Profile.MatchedBefore(4) {
		t.Error("MatchedBefore misses the history")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := New(7, time.Unix(1000, 0))
	u.Profile.Name = "Alice"
	u.Grants[FeatureVault] = Grant{Until: time.Unix(5000, 0)}
	u.Ban = Permanent("test")

	if err := store.Upsert(ctx, u); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	got, err := store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Profile.Name != "Alice" || got.Ban.Kind != BanPermanent {
		t.Errorf("record = %+v", got)
	}
	if !got.HasFeature(FeatureVault, time.Unix(1000, 0)) {
		t.Error("grants lost in the round trip")
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), 404)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_MarkCharge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.MarkCharge(ctx, "ch_1")
	if err != nil || !ok {
		t.Fatalf("first MarkCharge = %v, %v", ok, err)
	}
	ok, err = store.MarkCharge(ctx, "ch_1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("replayed charge must be refused")
	}
}

func TestStore_IDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 30} {
		if err := store.Upsert(ctx, New(id, time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	// An unrelated key must not be picked up.
	store.Client().Set(ctx, "payment:charge:x", 1, 0)

	ids, err := store.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs() error: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ids = %v, want the three stored users", ids)
	}
}
