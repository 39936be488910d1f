package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/messaging"
	"github.com/chatdude/anonchat/internal/user"
)

// fakeTransport records every payload it is asked to deliver.
type fakeTransport struct {
	mu   sync.Mutex
	sent map[int64][]messaging.Payload
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[int64][]messaging.Payload)}
}

func (f *fakeTransport) Send(_ context.Context, userID int64, p messaging.Payload) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[userID] = append(f.sent[userID], p)
	return len(f.sent[userID]), nil
}

func (f *fakeTransport) last(userID int64) (messaging.Payload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[userID]
	if len(msgs) == 0 {
		return messaging.Payload{}, false
	}
	return msgs[len(msgs)-1], true
}

func newTestService(t *testing.T) (*Service, *user.Store, *fakeTransport) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := user.NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	transport := newFakeTransport()
	svc := NewService(NewRegistry(), store, transport)
	return svc, store, transport
}

func seedComplete(t *testing.T, store *user.Store, id int64, name string) {
	t.Helper()
	u := user.New(id, time.Now())
	u.Consent = true
	u.Cursor = user.StepDone
	u.Profile = user.Profile{Name: name, Age: 25, Gender: user.GenderOther, Location: "earth"}
	if err := store.Upsert(context.Background(), u); err != nil {
		t.Fatalf("seed %d: %v", id, err)
	}
}

func TestEnqueueMatch_Scenario(t *testing.T) {
	svc, store, transport := newTestService(t)
	ctx := context.Background()
	seedComplete(t, store, 1, "Alice")
	seedComplete(t, store, 2, "Bob")

	for _, id := range []int64{1, 2} {
		status, err := svc.Enqueue(ctx, id)
		if err != nil {
			t.Fatalf("Enqueue(%d) error: %v", id, err)
		}
		if status != Queued {
			t.Fatalf("Enqueue(%d) = %v, want Queued", id, status)
		}
	}

	if n := svc.Match(ctx); n != 1 {
		t.Fatalf("Match() = %d pairings, want 1", n)
	}

	// registry[A]=B and registry[B]=A.
	if p, ok := svc.PartnerOf(1); !ok || p != 2 {
		t.Errorf("PartnerOf(1) = (%d,%v), want (2,true)", p, ok)
	}
	if p, ok := svc.PartnerOf(2); !ok || p != 1 {
		t.Errorf("PartnerOf(2) = (%d,%v), want (1,true)", p, ok)
	}

	// Introductions reference the partner's profile.
	intro1, ok := transport.last(1)
	if !ok || intro1.Kind != messaging.KindMatchFound || intro1.Profile == nil {
		t.Fatalf("user 1 got no introduction: %+v", intro1)
	}
	if intro1.Profile.Name != "Bob" {
		t.Errorf("introduction to 1 names %q, want Bob", intro1.Profile.Name)
	}
	intro2, _ := transport.last(2)
	if intro2.Profile == nil || intro2.Profile.Name != "Alice" {
		t.Errorf("introduction to 2 should name Alice: %+v", intro2.Profile)
	}

	// Past-partner history appended on both records.
	u1, _ := store.Get(ctx, 1)
	u2, _ := store.Get(ctx, 2)
	if !u1.Profile.MatchedBefore(2) || !u2.Profile.MatchedBefore(1) {
		t.Error("past-partner history missing after match")
	}
}

func TestEnqueue_BannedRejected(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedComplete(t, store, 3, "Mallory")

	u, _ := store.Get(ctx, 3)
	u.Ban = user.Temporary(time.Now(), time.Hour, "test")
	if err := store.Upsert(ctx, u); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Enqueue(ctx, 3)
	if !errors.Is(err, errs.ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}
}

func TestEnqueue_ExpiredBanAdmitted(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedComplete(t, store, 4, "Trent")

	// Stored ban already past its expiry: not enforced, field untouched.
	u, _ := store.Get(ctx, 4)
	u.Ban = user.Temporary(time.Now().Add(-25*time.Hour), 24*time.Hour, "old")
	if err := store.Upsert(ctx, u); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Enqueue(ctx, 4); err != nil {
		t.Fatalf("expired ban must not block enqueue: %v", err)
	}

	u, _ = store.Get(ctx, 4)
	if u.Ban.Kind != user.BanTemporary {
		t.Error("stored ban field must survive until explicit unban")
	}
}

func TestEnqueue_TearsDownExistingPairing(t *testing.T) {
	svc, store, transport := newTestService(t)
	ctx := context.Background()
	seedComplete(t, store, 5, "A")
	seedComplete(t, store, 6, "B")

	svc.Enqueue(ctx, 5)
	svc.Enqueue(ctx, 6)
	svc.Match(ctx)

	// 5 re-enqueues: pairing torn down, 6 notified, 5 waiting again.
	status, err := svc.Enqueue(ctx, 5)
	if err != nil || status != Queued {
		t.Fatalf("re-enqueue = (%v,%v), want (Queued,nil)", status, err)
	}
	if _, ok := svc.PartnerOf(6); ok {
		t.Error("former partner still paired after teardown")
	}
	if p, ok := transport.last(6); !ok || p.Kind != messaging.KindPartnerLeft {
		t.Errorf("former partner not notified: %+v", p)
	}
}

func TestDequeue_Idempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedComplete(t, store, 7, "C")

	// Never enqueued: still a no-op, never an error.
	if err := svc.Dequeue(ctx, 7); err != nil {
		t.Fatalf("Dequeue() on absent user: %v", err)
	}

	svc.Enqueue(ctx, 7)
	if err := svc.Dequeue(ctx, 7); err != nil {
		t.Fatalf("Dequeue() error: %v", err)
	}
	if err := svc.Dequeue(ctx, 7); err != nil {
		t.Fatalf("repeated Dequeue() error: %v", err)
	}
}

func TestEnqueue_PriorityEntitlementOrdering(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		seedComplete(t, store, i, "u")
	}

	// User 3 holds priority but enqueues last.
	u3, _ := store.Get(ctx, 3)
	u3.Grants[user.FeaturePriority] = user.Grant{Until: time.Now().Add(time.Hour)}
	if err := store.Upsert(ctx, u3); err != nil {
		t.Fatal(err)
	}

	svc.Enqueue(ctx, 1)
	svc.Enqueue(ctx, 2)
	svc.Enqueue(ctx, 3)

	a, b, _, _, ok := svc.reg.PopPair()
	if !ok {
		t.Fatal("expected a pair")
	}
	if a != 3 {
		t.Errorf("first pop = %d, want priority user 3", a)
	}
	if b != 1 {
		t.Errorf("second pop = %d, want earliest regular user 1", b)
	}
}
