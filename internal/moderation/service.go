package moderation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/messaging"
	"github.com/chatdude/anonchat/internal/metrics"
	"github.com/chatdude/anonchat/internal/user"
)

const (
	// ReportThreshold is the distinct-report count that triggers an
	// automatic temporary ban, applied exactly once when reached.
	ReportThreshold = 3

	// AutoBanDuration is the length of the automatic ban.
	AutoBanDuration = 24 * time.Hour

	secondsPerDay = 86400
)

// Store is the subset of the user record store the service needs.
type Store interface {
	Get(ctx context.Context, id int64) (*user.User, error)
	Upsert(ctx context.Context, u *user.User) error
}

// ReportLedger is the persisted report store the service drives. *Ledger
// implements it over Postgres.
type ReportLedger interface {
	Insert(ctx context.Context, reporterID, reportedID int64) error
	CountByTarget(ctx context.Context, reportedID int64) (int, error)
	DeleteByTarget(ctx context.Context, reportedID int64) error
	TopReported(ctx context.Context, n int) ([]ReportCount, error)
}

// ViolationLedger mirrors applied bans. *Violations implements it.
type ViolationLedger interface {
	Upsert(ctx context.Context, userID int64, count int, reason string, ban user.BanState) error
	Delete(ctx context.Context, userID int64) error
}

// Evictor tears a user out of the pairing registry and waiting queue.
// Bound after construction because the matchmaker itself gates on this
// service's ban checks.
type Evictor interface {
	Evict(ctx context.Context, userID int64) error
}

// Purger drops pending rematch requests involving a user.
type Purger interface {
	PurgeUser(id int64)
}

// Service drives the ban state machine and the report/violation ledgers.
type Service struct {
	// mu serializes the insert-count-ban transition in FileReport so two
	// reports landing together cannot both observe the threshold.
	mu         sync.Mutex
	ledger     ReportLedger
	violations ViolationLedger
	store      Store
	transport  messaging.Transport
	evictor    Evictor
	purger     Purger
	now        func() time.Time
}

// NewService creates the moderation service. Call BindEvictor before the
// first report is filed.
func NewService(ledger ReportLedger, violations ViolationLedger, store Store, transport messaging.Transport) *Service {
	return &Service{
		ledger:     ledger,
		violations: violations,
		store:      store,
		transport:  transport,
		now:        time.Now,
	}
}

// BindEvictor wires the pairing/queue eviction dependency.
func (s *Service) BindEvictor(e Evictor) {
	s.evictor = e
}

// BindPurger wires the pending-rematch teardown applied alongside a ban.
func (s *Service) BindPurger(p Purger) {
	s.purger = p
}

// Enforced reports whether the user's ban currently blocks operations.
// Every pairing, queue, messaging and premium-command gate calls this.
func (s *Service) Enforced(ctx context.Context, userID int64) (bool, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.Ban.Enforced(s.now()), nil
}

// FileReport records a report by reporter against reported. Duplicate
// ordered pairs are rejected. Reaching the threshold applies the automatic
// ban exactly once: the transition fires only when the count lands exactly
// on the threshold, so a fourth report cannot re-trigger it.
func (s *Service) FileReport(ctx context.Context, reporterID, reportedID int64) (banned bool, err error) {
	if reporterID == reportedID {
		return false, fmt.Errorf("self-report: %w", errs.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Insert(ctx, reporterID, reportedID); err != nil {
		return false, err
	}
	metrics.ReportsTotal.Inc()

	count, err := s.ledger.CountByTarget(ctx, reportedID)
	if err != nil {
		return false, err
	}
	if count != ReportThreshold {
		return false, nil
	}

	ban := user.Temporary(s.now(), AutoBanDuration, "reports")
	if err := s.applyBan(ctx, reportedID, ban, count); err != nil {
		return false, err
	}
	metrics.BansTotal.WithLabelValues("auto").Inc()

	s.evict(ctx, reportedID)
	s.purge(reportedID)
	s.notifyBan(ctx, reportedID, ban)
	return true, nil
}

// Ban applies an admin ban: temporary for days > 0, permanent otherwise.
func (s *Service) Ban(ctx context.Context, targetID int64, days int, reason string) error {
	var ban user.BanState
	if days > 0 {
		ban = user.Temporary(s.now(), time.Duration(days)*secondsPerDay*time.Second, reason)
	} else {
		ban = user.Permanent(reason)
	}

	count, err := s.ledger.CountByTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if err := s.applyBan(ctx, targetID, ban, count); err != nil {
		return err
	}
	metrics.BansTotal.WithLabelValues("admin").Inc()

	s.evict(ctx, targetID)
	s.purge(targetID)
	s.notifyBan(ctx, targetID, ban)
	return nil
}

// Unban clears the stored ban state and the violation row. This is the only
// transition back to none; expiry alone never rewrites the stored field.
func (s *Service) Unban(ctx context.Context, targetID int64) error {
	u, err := s.store.Get(ctx, targetID)
	if err != nil {
		return err
	}

	u.Ban = user.BanState{}
	if err := s.store.Upsert(ctx, u); err != nil {
		return err
	}

	return s.violations.Delete(ctx, targetID)
}

// ClearReports deletes the ledger rows for a user. An already-applied ban
// stays in force.
func (s *Service) ClearReports(ctx context.Context, targetID int64) error {
	return s.ledger.DeleteByTarget(ctx, targetID)
}

// TopReports returns the n most reported users.
func (s *Service) TopReports(ctx context.Context, n int) ([]ReportCount, error) {
	return s.ledger.TopReported(ctx, n)
}

// applyBan writes the ban to the user record, then mirrors it into the
// violation ledger. The record write is the authoritative one; a violation
// mirror failure is logged, not propagated, since the ban already holds.
func (s *Service) applyBan(ctx context.Context, targetID int64, ban user.BanState, count int) error {
	u, err := s.store.Get(ctx, targetID)
	if err != nil {
		return err
	}

	u.Ban = ban
	if err := s.store.Upsert(ctx, u); err != nil {
		return err
	}

	if err := s.violations.Upsert(ctx, targetID, count, ban.Reason, ban); err != nil {
		log.Printf("[moderation] violation mirror for %d: %v", targetID, err)
	}
	return nil
}

func (s *Service) evict(ctx context.Context, targetID int64) {
	if s.evictor == nil {
		return
	}
	if err := s.evictor.Evict(ctx, targetID); err != nil {
		log.Printf("[moderation] evict %d: %v", targetID, err)
	}
}

func (s *Service) purge(targetID int64) {
	if s.purger == nil {
		return
	}
	s.purger.PurgeUser(targetID)
}

func (s *Service) notifyBan(ctx context.Context, targetID int64, ban user.BanState) {
	text := "You have been banned permanently."
	if ban.Kind == user.BanTemporary {
		text = fmt.Sprintf("You have been banned until %s.", ban.Expires.UTC().Format(time.RFC1123))
	}
	if _, err := s.transport.Send(ctx, targetID, messaging.Payload{Kind: messaging.KindBanned, Text: text}); err != nil {
		log.Printf("[moderation] notify ban %d: %v", targetID, err)
	}
}
