package match

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/messaging"
	"github.com/chatdude/anonchat/internal/metrics"
	"github.com/chatdude/anonchat/internal/user"
)

const matchInterval = 2 * time.Second

// EnqueueStatus is the outcome of an Enqueue call.
type EnqueueStatus int

const (
	Queued EnqueueStatus = iota
	AlreadyQueued
)

// Store is the subset of the user record store the matchmaker needs.
type Store interface {
	Get(ctx context.Context, id int64) (*user.User, error)
	Upsert(ctx context.Context, u *user.User) error
}

// Service orchestrates the registry: enqueue/dequeue gates, the periodic
// match loop, history writes and introduction payloads.
type Service struct {
	reg       *Registry
	store     Store
	transport messaging.Transport
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates the matchmaker over a registry. Ban enforcement reads
// the ban state off the loaded user record in Enqueue.
func NewService(reg *Registry, store Store, transport messaging.Transport) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		reg:       reg,
		store:     store,
		transport: transport,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the periodic match loop.
func (s *Service) Start() {
	go s.matchLoop()
	log.Println("[matcher] service started")
}

// Stop halts the match loop.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[matcher] service stopped")
}

// Enqueue places a user in the waiting queue. Banned users are rejected.
// A user who is currently paired has that pairing torn down first (the
// former partner is notified), so enqueue can never produce a user who is
// both paired and waiting. Re-enqueueing while already waiting is a no-op.
func (s *Service) Enqueue(ctx context.Context, userID int64) (EnqueueStatus, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !u.Complete() {
		return 0, fmt.Errorf("profile incomplete: %w", errs.ErrValidation)
	}
	if u.Ban.Enforced(s.now()) {
		return 0, fmt.Errorf("enqueue rejected: %w", errs.ErrBanned)
	}

	if partner, ok := s.reg.Unpair(userID); ok {
		s.notifyPartnerLeft(ctx, partner)
	}

	if !s.reg.Enqueue(userID, u.HasFeature(user.FeaturePriority, s.now())) {
		return AlreadyQueued, nil
	}
	return Queued, nil
}

// Dequeue removes a user from their pairing (notifying the partner) or from
// the waiting queue. Idempotent: repeating it is a no-op, never an error.
func (s *Service) Dequeue(ctx context.Context, userID int64) error {
	if partner, ok := s.reg.Unpair(userID); ok {
		s.notifyPartnerLeft(ctx, partner)
		return nil
	}
	s.reg.RemoveFromQueue(userID)
	return nil
}

// Evict is the moderation teardown: identical to Dequeue, kept separate so
// the moderation subsystem depends on a named operation.
func (s *Service) Evict(ctx context.Context, userID int64) error {
	return s.Dequeue(ctx, userID)
}

// PartnerOf returns the user's current chat partner.
func (s *Service) PartnerOf(userID int64) (int64, bool) {
	return s.reg.PartnerOf(userID)
}

// Match drains the queue, creating pairings while at least two users wait.
// Returns the number of pairings created.
func (s *Service) Match(ctx context.Context) int {
	created := 0
	for {
		a, b, waitA, waitB, ok := s.reg.PopPair()
		if !ok {
			return created
		}
		metrics.QueueWaitSeconds.Observe(waitA.Seconds())
		metrics.QueueWaitSeconds.Observe(waitB.Seconds())
		s.introduce(ctx, a, b, "queue")
		created++
	}
}

func (s *Service) matchLoop() {
	ticker := time.NewTicker(matchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("[matcher] match loop stopped")
			return
		case <-ticker.C:
			s.Match(s.ctx)
		}
	}
}

// introduce finalizes a fresh pairing: history writes and introduction
// payloads. The pairing already stands in the registry; a failed history
// write aborts only that write and is retried by eventual consistency
// elsewhere, never by un-pairing.
func (s *Service) introduce(ctx context.Context, a, b int64, origin string) {
	pairID := uuid.New().String()
	metrics.MatchesTotal.WithLabelValues(origin).Inc()
	log.Printf("[matcher] paired %d and %d (pair=%s origin=%s)", a, b, pairID, origin)

	ua := s.appendHistory(ctx, a, b)
	ub := s.appendHistory(ctx, b, a)

	s.sendIntro(ctx, a, ua, ub)
	s.sendIntro(ctx, b, ub, ua)
}

// appendHistory appends partner to the user's past-partner log and returns
// the loaded record (nil if the store was unavailable).
func (s *Service) appendHistory(ctx context.Context, userID, partnerID int64) *user.User {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		log.Printf("[matcher] load %d for history: %v", userID, err)
		return nil
	}
	u.AppendPartner(partnerID)
	if err := s.store.Upsert(ctx, u); err != nil {
		log.Printf("[matcher] history write for %d: %v", userID, err)
	}
	return u
}

// sendIntro delivers the introduction payload: the partner's profile
// snapshot, extended when the recipient holds the partner-details feature.
func (s *Service) sendIntro(ctx context.Context, to int64, recipient, partner *user.User) {
	p := messaging.Payload{
		Kind: messaging.KindMatchFound,
		Text: "Connected! Start chatting.",
	}
	if partner != nil {
		extended := recipient != nil && recipient.HasFeature(user.FeatureDetails, s.now())
		p.Profile = Card(partner, extended, s.now())
	}
	if _, err := s.transport.Send(ctx, to, p); err != nil {
		metrics.NotifyFailures.Inc()
		log.Printf("[matcher] introduction to %d: %v", to, err)
	}
}

func (s *Service) notifyPartnerLeft(ctx context.Context, partner int64) {
	p := messaging.Payload{
		Kind: messaging.KindPartnerLeft,
		Text: "Your partner left the chat. Send /next to find a new one.",
	}
	if _, err := s.transport.Send(ctx, partner, p); err != nil {
		metrics.NotifyFailures.Inc()
		log.Printf("[matcher] partner-left notice to %d: %v", partner, err)
	}
}

// Card builds the profile snapshot shown to a chat partner. The extended
// form adds location, tags and mood; the badge shows only while the
// verified-badge feature is active.
func Card(u *user.User, extended bool, now time.Time) *messaging.ProfileCard {
	card := &messaging.ProfileCard{
		Name:     u.Profile.Name,
		Age:      u.Profile.Age,
		Gender:   string(u.Profile.Gender),
		Verified: u.Verified && u.HasFeature(user.FeatureBadge, now),
		Extended: extended,
	}
	if extended {
		card.Location = u.Profile.Location
		card.Tags = u.Profile.Tags
		if u.HasFeature(user.FeatureMood, now) {
			card.Mood = u.Profile.Mood
		}
	}
	return card
}
