package rematch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/match"
	"github.com/chatdude/anonchat/internal/messaging"
	"github.com/chatdude/anonchat/internal/metrics"
	"github.com/chatdude/anonchat/internal/user"
)

const (
	// RequestTTL is how long an unanswered request stays outstanding.
	RequestTTL = 3600 * time.Second

	sweepInterval = 30 * time.Second
)

// Store is the subset of the user record store the handshake needs.
type Store interface {
	Get(ctx context.Context, id int64) (*user.User, error)
	Upsert(ctx context.Context, u *user.User) error
}

// Entitlements gates and consumes rematch credits.
type Entitlements interface {
	Has(ctx context.Context, userID int64, f user.Feature) (bool, error)
	ConsumeRematch(ctx context.Context, userID int64) error
}

// MessageVoider rewrites a previously delivered offer so its buttons stop
// working visually. Transports without editable messages simply don't
// implement it.
type MessageVoider interface {
	VoidMessage(ctx context.Context, userID int64, messageID int) error
}

// Service runs the reconnect protocol over the pairing registry.
type Service struct {
	table     *Table
	reg       *match.Registry
	store     Store
	ents      Entitlements
	transport messaging.Transport
	voider    MessageVoider // nil when the transport can't edit messages
	now       func() time.Time
}

// NewService creates the rematch service.
func NewService(table *Table, reg *match.Registry, store Store, ents Entitlements, transport messaging.Transport) *Service {
	voider, _ := transport.(MessageVoider)
	return &Service{
		table:     table,
		reg:       reg,
		store:     store,
		ents:      ents,
		transport: transport,
		voider:    voider,
		now:       time.Now,
	}
}

// Request initiates a reconnect with a former partner. If the target is
// idle in the waiting queue the pairing happens immediately; otherwise an
// offer is stored for the target to accept or decline. The credit is not
// consumed for a stored offer.
func (s *Service) Request(ctx context.Context, requesterID, targetID int64) error {
	if requesterID == targetID {
		return fmt.Errorf("cannot rematch with yourself: %w", errs.ErrValidation)
	}

	requester, err := s.store.Get(ctx, requesterID)
	if err != nil {
		return err
	}
	now := s.now()
	if requester.Ban.Enforced(now) {
		return fmt.Errorf("rematch rejected: %w", errs.ErrBanned)
	}
	if !requester.Profile.MatchedBefore(targetID) {
		return fmt.Errorf("user %d is not a former partner: %w", targetID, errs.ErrValidation)
	}
	if _, paired := s.reg.PartnerOf(requesterID); paired {
		return fmt.Errorf("finish the current chat first: %w", errs.ErrConflict)
	}

	ok, err := s.ents.Has(ctx, requesterID, user.FeatureRematch)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no rematch credits: %w", errs.ErrConflict)
	}

	target, err := s.store.Get(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Ban.Enforced(now) {
		return fmt.Errorf("partner unavailable: %w", errs.ErrConflict)
	}

	// Path A: target idle in the queue. Pair re-validates under the
	// registry lock, so a race with the matcher degrades to Path B.
	if s.reg.IsQueued(targetID) {
		s.reg.RemoveFromQueue(requesterID)
		if err := s.reg.Pair(requesterID, targetID); err == nil {
			s.confirm(ctx, requesterID, targetID, "immediate")
			return nil
		}
	}

	// Path B: store the offer, overwriting an unanswered prior request
	// to the same target.
	offer := messaging.Payload{
		Kind: messaging.KindRematchOffer,
		Text: fmt.Sprintf("%s wants to chat with you again.", requester.Profile.Name),
		Actions: []messaging.Action{
			{Label: "Accept", Data: fmt.Sprintf("rematch:accept:%d", requesterID)},
			{Label: "Decline", Data: fmt.Sprintf("rematch:decline:%d", requesterID)},
		},
	}
	msgID, err := s.transport.Send(ctx, targetID, offer)
	if err != nil {
		metrics.NotifyFailures.Inc()
		log.Printf("[rematch] offer to %d: %v", targetID, err)
	}

	if prev, had := s.table.Put(Request{
		RequesterID: requesterID,
		TargetID:    targetID,
		CreatedAt:   now,
		MessageID:   msgID,
	}); had {
		s.voidOffer(ctx, prev)
	}

	s.notify(ctx, requesterID, messaging.Payload{
		Kind: messaging.KindRematchSent,
		Text: "Request sent. You'll be connected if they accept.",
	})
	return nil
}

// Accept confirms the outstanding request addressed to the target. Fails
// with errs.ErrConflict if either side got paired in the meantime; the
// request then stays until it expires or is declined.
func (s *Service) Accept(ctx context.Context, targetID, requesterID int64) error {
	req, ok := s.table.Get(targetID)
	if !ok {
		return fmt.Errorf("no pending rematch request: %w", errs.ErrNotFound)
	}
	// The button carries the requester it was issued for. A press on an
	// offer that has since been overwritten must not accept the newer one.
	if req.RequesterID != requesterID {
		return fmt.Errorf("that rematch offer is no longer active: %w", errs.ErrNotFound)
	}

	now := s.now()
	target, err := s.store.Get(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Ban.Enforced(now) {
		return fmt.Errorf("rematch rejected: %w", errs.ErrBanned)
	}

	// Both sides of a pairing are gated on current ban state: a requester
	// banned after filing must not be paired. Their request is dead, so
	// drop it as well.
	requester, err := s.store.Get(ctx, req.RequesterID)
	if err != nil {
		return err
	}
	if requester.Ban.Enforced(now) {
		s.table.DeleteIf(targetID, req.CreatedAt)
		return fmt.Errorf("partner unavailable: %w", errs.ErrBanned)
	}

	// Registry lock first, then the table (global lock order).
	if err := s.reg.Pair(req.RequesterID, targetID); err != nil {
		return err
	}
	s.table.Delete(targetID)
	s.confirm(ctx, req.RequesterID, targetID, "accepted")
	return nil
}

// Decline rejects the outstanding request addressed to the target. No
// credit is consumed.
func (s *Service) Decline(ctx context.Context, targetID, requesterID int64) error {
	req, ok := s.table.Get(targetID)
	if !ok {
		return fmt.Errorf("no pending rematch request: %w", errs.ErrNotFound)
	}
	if req.RequesterID != requesterID {
		return fmt.Errorf("that rematch offer is no longer active: %w", errs.ErrNotFound)
	}
	s.table.Delete(targetID)
	metrics.RematchTotal.WithLabelValues("declined").Inc()

	s.notify(ctx, req.RequesterID, messaging.Payload{
		Kind: messaging.KindRematchDeclined,
		Text: "Your rematch request was declined.",
	})
	return nil
}

// StartSweep runs the expiry sweep until the context is cancelled.
func (s *Service) StartSweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[rematch] sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evicts requests older than RequestTTL. Eviction re-checks the
// entry under the table lock, so a request resolved between the scan and
// the eviction is left alone.
func (s *Service) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-RequestTTL)
	evicted := 0
	for _, req := range s.table.Expired(cutoff) {
		if !s.table.DeleteIf(req.TargetID, req.CreatedAt) {
			continue
		}
		evicted++
		metrics.RematchTotal.WithLabelValues("expired").Inc()
		s.voidOffer(ctx, req)
		s.notify(ctx, req.RequesterID, messaging.Payload{
			Kind: messaging.KindRematchExpired,
			Text: "Your rematch request expired without an answer.",
		})
	}
	if evicted > 0 {
		log.Printf("[rematch] sweep evicted %d expired requests", evicted)
	}
	return evicted
}

// Pending returns the number of outstanding requests.
func (s *Service) Pending() int {
	return s.table.Len()
}

// PurgeUser drops any outstanding request involving the user.
func (s *Service) PurgeUser(id int64) {
	s.table.PurgeUser(id)
}

// confirm finalizes a reconnection: one credit consumed, history appended,
// both sides notified. The pairing already stands; a failed credit or
// history write is logged and never un-pairs.
func (s *Service) confirm(ctx context.Context, requesterID, targetID int64, outcome string) {
	metrics.RematchTotal.WithLabelValues(outcome).Inc()
	metrics.MatchesTotal.WithLabelValues("rematch").Inc()
	log.Printf("[rematch] reconnected %d and %d (%s)", requesterID, targetID, outcome)

	if err := s.ents.ConsumeRematch(ctx, requesterID); err != nil {
		log.Printf("[rematch] consume credit for %d: %v", requesterID, err)
	}

	s.appendHistory(ctx, requesterID, targetID)
	s.appendHistory(ctx, targetID, requesterID)

	s.notify(ctx, requesterID, messaging.Payload{
		Kind: messaging.KindRematchAccepted,
		Text: "Reconnected! Start chatting.",
	})
	s.notify(ctx, targetID, messaging.Payload{
		Kind: messaging.KindRematchAccepted,
		Text: "Reconnected! Start chatting.",
	})
}

func (s *Service) appendHistory(ctx context.Context, userID, partnerID int64) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		log.Printf("[rematch] load %d for history: %v", userID, err)
		return
	}
	u.AppendPartner(partnerID)
	if err := s.store.Upsert(ctx, u); err != nil {
		log.Printf("[rematch] history write for %d: %v", userID, err)
	}
}

// voidOffer defuses a superseded or expired offer message so its stale
// buttons stop inviting a press. Best-effort; Accept verifies the requester
// either way.
func (s *Service) voidOffer(ctx context.Context, req Request) {
	if s.voider == nil || req.MessageID == 0 {
		return
	}
	if err := s.voider.VoidMessage(ctx, req.TargetID, req.MessageID); err != nil {
		log.Printf("[rematch] void offer %d for %d: %v", req.MessageID, req.TargetID, err)
	}
}

func (s *Service) notify(ctx context.Context, userID int64, p messaging.Payload) {
	if _, err := s.transport.Send(ctx, userID, p); err != nil {
		metrics.NotifyFailures.Inc()
		log.Printf("[rematch] notify %d: %v", userID, err)
	}
}
