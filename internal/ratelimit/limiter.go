// Package ratelimit throttles user-initiated operations with per-family
// cooldown windows. A window starts only when the guarded operation
// succeeds, so Allow and Commit are separate phases: check first, run the
// operation, commit on success. A failed operation leaves the window
// untouched and the user may retry immediately.
package ratelimit

import (
	"sync"
	"time"

	"github.com/chatdude/anonchat/internal/metrics"
)

// Family names a throttled operation class.
type Family string

const (
	FamilyMatch    Family = "match"
	FamilyReport   Family = "report"
	FamilyRematch  Family = "rematch"
	FamilyVault    Family = "vault"
	FamilySettings Family = "settings"
)

// DefaultWindow is the cooldown applied to a family with no explicit rule.
const DefaultWindow = 30 * time.Second

// Rule sets the cooldown window for one family.
type Rule struct {
	Family Family
	Window time.Duration
}

// DefaultRules are the standing cooldowns. Reporting gets a longer window
// to blunt report flooding; vault reads are cheap and get a short one.
var DefaultRules = []Rule{
	{Family: FamilyMatch, Window: 5 * time.Second},
	{Family: FamilyReport, Window: 60 * time.Second},
	{Family: FamilyRematch, Window: 10 * time.Second},
	{Family: FamilyVault, Window: 5 * time.Second},
	{Family: FamilySettings, Window: 2 * time.Second},
}

type key struct {
	userID int64
	family Family
}

// Limiter tracks the last committed use per user and family.
type Limiter struct {
	mu      sync.Mutex
	windows map[Family]time.Duration
	last    map[key]time.Time
	now     func() time.Time
}

// NewLimiter creates a limiter with the given rules. Families without a
// rule fall back to DefaultWindow.
func NewLimiter(rules []Rule) *Limiter {
	windows := make(map[Family]time.Duration, len(rules))
	for _, r := range rules {
		windows[r.Family] = r.Window
	}
	return &Limiter{
		windows: windows,
		last:    make(map[key]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether the user may run an operation of the family now.
// When throttled it returns how long until the window reopens. Allow does
// not start a window; call Commit after the operation succeeds.
func (l *Limiter) Allow(userID int64, family Family) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	at, ok := l.last[key{userID, family}]
	if !ok {
		return true, 0
	}
	remaining := l.window(family) - l.now().Sub(at)
	if remaining > 0 {
		metrics.RateLimited.WithLabelValues(string(family)).Inc()
		return false, remaining
	}
	return true, 0
}

// Commit records a successful use of the family, starting its cooldown.
func (l *Limiter) Commit(userID int64, family Family) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[key{userID, family}] = l.now()
}

// Forget drops all state for a user. Called when the user is deleted.
func (l *Limiter) Forget(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.last {
		if k.userID == userID {
			delete(l.last, k)
		}
	}
}

func (l *Limiter) window(family Family) time.Duration {
	if w, ok := l.windows[family]; ok {
		return w
	}
	return DefaultWindow
}
