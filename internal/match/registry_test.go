package match

import (
	"errors"
	"testing"

	"github.com/chatdude/anonchat/internal/errs"
)

func TestEnqueue_PriorityBeforeEarlierRegular(t *testing.T) {
	r := NewRegistry()

	// Regular users arrive first, then two priority users.
	r.Enqueue(1, false)
	r.Enqueue(2, false)
	r.Enqueue(3, true)
	r.Enqueue(4, true)

	a, b, _, _, ok := r.PopPair()
	if !ok {
		t.Fatal("expected a pair")
	}
	// Priority users are served first, FIFO between themselves.
	if a != 3 || b != 4 {
		t.Errorf("expected priority pair (3,4), got (%d,%d)", a, b)
	}

	a, b, _, _, ok = r.PopPair()
	if !ok {
		t.Fatal("expected a second pair")
	}
	if a != 1 || b != 2 {
		t.Errorf("expected regular FIFO pair (1,2), got (%d,%d)", a, b)
	}
}

func TestEnqueue_Idempotent(t *testing.T) {
	r := NewRegistry()

	if !r.Enqueue(1, false) {
		t.Fatal("first enqueue should succeed")
	}
	if r.Enqueue(1, false) {
		t.Error("second enqueue should be a no-op")
	}
	if r.QueueLen() != 1 {
		t.Errorf("queue length = %d, want 1", r.QueueLen())
	}
}

func TestEnqueue_RejectedWhilePaired(t *testing.T) {
	r := NewRegistry()
	if err := r.Pair(1, 2); err != nil {
		t.Fatalf("Pair() error: %v", err)
	}
	if r.Enqueue(1, false) {
		t.Error("paired user must not enter the queue")
	}
}

func TestPopPair_SymmetricRegistration(t *testing.T) {
	r := NewRegistry()
	r.Enqueue(10, false)
	r.Enqueue(20, false)

	a, b, _, _, ok := r.PopPair()
	if !ok {
		t.Fatal("expected a pair")
	}

	pa, okA := r.PartnerOf(a)
	pb, okB := r.PartnerOf(b)
	if !okA || !okB || pa != b || pb != a {
		t.Errorf("pairing not symmetric: partner(%d)=%d partner(%d)=%d", a, pa, b, pb)
	}
	if r.IsQueued(a) || r.IsQueued(b) {
		t.Error("paired users must not remain in the queue")
	}
	if a == b {
		t.Error("matcher paired a user with itself")
	}
}

func TestPopPair_NeedsTwo(t *testing.T) {
	r := NewRegistry()
	r.Enqueue(1, false)
	if _, _, _, _, ok := r.PopPair(); ok {
		t.Error("PopPair should fail with a single queued user")
	}
}

func TestPair_Conflicts(t *testing.T) {
	r := NewRegistry()

	if err := r.Pair(5, 5); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("self-pair: expected ErrConflict, got %v", err)
	}

	if err := r.Pair(1, 2); err != nil {
		t.Fatalf("Pair() error: %v", err)
	}
	if err := r.Pair(2, 3); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("pairing an already-paired user: expected ErrConflict, got %v", err)
	}
}

func TestPair_RemovesFromQueue(t *testing.T) {
	r := NewRegistry()
	r.Enqueue(1, false)
	r.Enqueue(2, true)

	if err := r.Pair(1, 2); err != nil {
		t.Fatalf("Pair() error: %v", err)
	}
	if r.IsQueued(1) || r.IsQueued(2) {
		t.Error("paired users must leave the queue")
	}
	if r.QueueLen() != 0 {
		t.Errorf("queue length = %d, want 0", r.QueueLen())
	}
}

func TestUnpair_BothSidesAndIdempotent(t *testing.T) {
	r := NewRegistry()
	if err := r.Pair(1, 2); err != nil {
		t.Fatalf("Pair() error: %v", err)
	}

	partner, ok := r.Unpair(1)
	if !ok || partner != 2 {
		t.Fatalf("Unpair(1) = (%d,%v), want (2,true)", partner, ok)
	}
	if _, ok := r.PartnerOf(2); ok {
		t.Error("partner side not destroyed with the pairing")
	}
	if _, ok := r.Unpair(1); ok {
		t.Error("repeated Unpair should be a no-op")
	}
}

func TestRemoveFromQueue_Idempotent(t *testing.T) {
	r := NewRegistry()
	r.Enqueue(1, true)

	if !r.RemoveFromQueue(1) {
		t.Fatal("first removal should report true")
	}
	if r.RemoveFromQueue(1) {
		t.Error("second removal should be a no-op")
	}
}
