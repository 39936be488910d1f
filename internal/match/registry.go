// Package match holds the waiting queue and the pairing registry behind one
// lock, and runs the matchmaker loop over them. Keeping both structures in
// a single boundary is what enforces the cross-cutting invariants: a paired
// user is never queued, pairings are symmetric, and nobody is paired with
// themselves.
//
// Lock order across the engine: match.Registry first, then rematch.Table.
// Nothing here calls out while holding the lock.
package match

import (
	"fmt"
	"sync"
	"time"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/metrics"
)

// Registry is the concurrency-safe queue + pairing state.
type Registry struct {
	mu       sync.Mutex
	priority []int64
	regular  []int64
	queuedAt map[int64]time.Time
	pairs    map[int64]int64
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		queuedAt: make(map[int64]time.Time),
		pairs:    make(map[int64]int64),
		now:      time.Now,
	}
}

// Enqueue inserts a user into the waiting queue. Priority users form their
// own FIFO segment served before the regular segment, so two priority users
// keep arrival order between themselves. Returns false without mutating if
// the user is already queued or currently paired.
func (r *Registry) Enqueue(id int64, priority bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, queued := r.queuedAt[id]; queued {
		return false
	}
	if _, paired := r.pairs[id]; paired {
		return false
	}

	if priority {
		r.priority = append(r.priority, id)
	} else {
		r.regular = append(r.regular, id)
	}
	r.queuedAt[id] = r.now()
	metrics.QueueDepth.Set(float64(len(r.queuedAt)))
	return true
}

// RemoveFromQueue takes a user out of the waiting queue. Returns false if
// the user was not queued; repeating the call is a no-op.
func (r *Registry) RemoveFromQueue(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// IsQueued reports whether the user is currently waiting.
func (r *Registry) IsQueued(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queuedAt[id]
	return ok
}

// PopPair removes and returns the next two users in priority-then-FIFO
// order, together with how long each had been waiting. ok is false while
// fewer than two users are queued.
func (r *Registry) PopPair() (a, b int64, waitA, waitB time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.priority)+len(r.regular) < 2 {
		return 0, 0, 0, 0, false
	}

	now := r.now()
	a, waitA = r.popLocked(now)
	b, waitB = r.popLocked(now)

	r.pairs[a] = b
	r.pairs[b] = a
	metrics.QueueDepth.Set(float64(len(r.queuedAt)))
	metrics.ActivePairs.Set(float64(len(r.pairs) / 2))
	return a, b, waitA, waitB, true
}

// Pair creates a symmetric pairing between two specific users (the rematch
// paths). Either user still waiting is removed from the queue first. Fails
// with errs.ErrConflict if a == b or either side is already paired.
func (r *Registry) Pair(a, b int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a == b {
		return fmt.Errorf("cannot pair %d with itself: %w", a, errs.ErrConflict)
	}
	if p, ok := r.pairs[a]; ok {
		return fmt.Errorf("user %d already paired with %d: %w", a, p, errs.ErrConflict)
	}
	if p, ok := r.pairs[b]; ok {
		return fmt.Errorf("user %d already paired with %d: %w", b, p, errs.ErrConflict)
	}

	r.removeLocked(a)
	r.removeLocked(b)
	r.pairs[a] = b
	r.pairs[b] = a
	metrics.ActivePairs.Set(float64(len(r.pairs) / 2))
	return nil
}

// Unpair destroys the pairing the user is part of, returning the former
// partner. Both sides are removed atomically. ok is false if the user was
// not paired; repeating the call is a no-op.
func (r *Registry) Unpair(id int64) (partner int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	partner, ok = r.pairs[id]
	if !ok {
		return 0, false
	}
	delete(r.pairs, id)
	delete(r.pairs, partner)
	metrics.ActivePairs.Set(float64(len(r.pairs) / 2))
	return partner, true
}

// PartnerOf returns the user's current partner.
func (r *Registry) PartnerOf(id int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	partner, ok := r.pairs[id]
	return partner, ok
}

// QueueLen returns the number of waiting users.
func (r *Registry) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queuedAt)
}

// PairCount returns the number of active pairings.
func (r *Registry) PairCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs) / 2
}

func (r *Registry) popLocked(now time.Time) (int64, time.Duration) {
	var id int64
	if len(r.priority) > 0 {
		id, r.priority = r.priority[0], r.priority[1:]
	} else {
		id, r.regular = r.regular[0], r.regular[1:]
	}
	wait := now.Sub(r.queuedAt[id])
	delete(r.queuedAt, id)
	return id, wait
}

func (r *Registry) removeLocked(id int64) bool {
	if _, ok := r.queuedAt[id]; !ok {
		return false
	}
	delete(r.queuedAt, id)
	r.priority = cut(r.priority, id)
	r.regular = cut(r.regular, id)
	metrics.QueueDepth.Set(float64(len(r.queuedAt)))
	return true
}

func cut(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
