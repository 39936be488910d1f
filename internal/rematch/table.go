// Package rematch implements the reconnect handshake: an immediate path
// when the former partner is idle in the queue, and an asynchronous
// request/accept/decline protocol with a periodic expiry sweep otherwise.
// A rematch credit is consumed only on a confirmed reconnection.
package rematch

import (
	"sync"
	"time"
)

// Request is one outstanding reconnect offer, keyed by target. MessageID is
// the transport handle of the offer shown to the target.
type Request struct {
	RequesterID int64
	TargetID    int64
	CreatedAt   time.Time
	MessageID   int
}

// Table holds at most one outstanding request per target. A new request to
// the same target overwrites any unanswered prior one.
//
// Lock order: match.Registry is always acquired before this table.
type Table struct {
	mu       sync.Mutex
	byTarget map[int64]Request
}

// NewTable creates an empty request table.
func NewTable() *Table {
	return &Table{byTarget: make(map[int64]Request)}
}

// Put stores a request, overwriting any unanswered prior request to the
// same target. Returns the replaced request, if any.
func (t *Table) Put(r Request) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, had := t.byTarget[r.TargetID]
	t.byTarget[r.TargetID] = r
	return prev, had
}

// Get returns the outstanding request for a target.
func (t *Table) Get(targetID int64) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byTarget[targetID]
	return r, ok
}

// Delete removes the request for a target.
func (t *Table) Delete(targetID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byTarget[targetID]
	delete(t.byTarget, targetID)
	return ok
}

// DeleteIf removes the request for a target only if it is still the same
// one observed earlier (matched by creation time). The sweep uses this to
// avoid evicting a request that was accepted, declined or replaced between
// its scan and the eviction.
func (t *Table) DeleteIf(targetID int64, createdAt time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byTarget[targetID]
	if !ok || !r.CreatedAt.Equal(createdAt) {
		return false
	}
	delete(t.byTarget, targetID)
	return true
}

// Expired returns a snapshot of requests created before the cutoff.
func (t *Table) Expired(cutoff time.Time) []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Request
	for _, r := range t.byTarget {
		if r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// PurgeUser removes any request involving the user on either side
// (user deletion).
func (t *Table) PurgeUser(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for target, r := range t.byTarget {
		if target == id || r.RequesterID == id {
			delete(t.byTarget, target)
		}
	}
}

// Len returns the number of outstanding requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byTarget)
}
