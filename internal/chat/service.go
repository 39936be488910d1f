// Package chat relays messages between paired users and serves the vault
// view. Message delivery is best-effort; vault writes are gated per side on
// the vault entitlement held at send time.
package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/messaging"
	"github.com/chatdude/anonchat/internal/metrics"
	"github.com/chatdude/anonchat/internal/user"
	"github.com/chatdude/anonchat/internal/vault"
)

// PartnerFinder answers who a user is currently paired with.
type PartnerFinder interface {
	PartnerOf(userID int64) (int64, bool)
}

// Store is the subset of the user record store the relay needs.
type Store interface {
	Get(ctx context.Context, id int64) (*user.User, error)
}

// Screener checks free text against the content filter. It returns the
// matched term, or "" for clean text.
type Screener interface {
	Screen(text string) string
}

// VaultEntry is one vault item with the partner name resolved at read time.
type VaultEntry struct {
	PartnerName string
	Text        string
	At          time.Time
}

// Service is the message relay.
type Service struct {
	partners  PartnerFinder
	store     Store
	screen    Screener
	vault     *vault.Store
	transport messaging.Transport
	now       func() time.Time
}

// NewService creates the relay.
func NewService(partners PartnerFinder, store Store, screen Screener, vaultStore *vault.Store, transport messaging.Transport) *Service {
	return &Service{
		partners:  partners,
		store:     store,
		screen:    screen,
		vault:     vaultStore,
		transport: transport,
		now:       time.Now,
	}
}

// Relay forwards a message from a user to their current partner. The sender
// must be unbanned and paired; the text must pass validation and the
// content filter. Each side's vault receives a copy only if that side holds
// the vault entitlement right now.
func (s *Service) Relay(ctx context.Context, fromID int64, text string) error {
	sender, err := s.store.Get(ctx, fromID)
	if err != nil {
		return err
	}
	now := s.now()
	if sender.Ban.Enforced(now) {
		return fmt.Errorf("message rejected: %w", errs.ErrBanned)
	}

	partnerID, ok := s.partners.PartnerOf(fromID)
	if !ok {
		return fmt.Errorf("not in a chat: %w", errs.ErrNotFound)
	}

	if err := ValidateMessage(text); err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrValidation)
	}
	if term := s.screen.Screen(text); term != "" {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		return fmt.Errorf("message contains a blocked term: %w", errs.ErrValidation)
	}

	if _, err := s.transport.Send(ctx, partnerID, messaging.Payload{
		Kind: messaging.KindChatMessage,
		Text: text,
	}); err != nil {
		metrics.NotifyFailures.Inc()
		log.Printf("[chat] relay %d -> %d: %v", fromID, partnerID, err)
	}
	metrics.MessagesTotal.WithLabelValues("relayed").Inc()

	s.vaultCopy(ctx, sender, partnerID, text, now)
	if partner, err := s.store.Get(ctx, partnerID); err != nil {
		log.Printf("[chat] load partner %d for vault: %v", partnerID, err)
	} else {
		s.vaultCopy(ctx, partner, fromID, text, now)
	}
	return nil
}

// VaultView returns the newest vault entries for a user with partner names
// resolved at read time. enabled is false when the user does not currently
// hold the vault entitlement; an empty vault with the entitlement active
// returns (nil-length slice, true, nil).
func (s *Service) VaultView(ctx context.Context, userID int64) (entries []VaultEntry, enabled bool, err error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if !u.HasFeature(user.FeatureVault, s.now()) {
		return nil, false, nil
	}

	raw, err := s.vault.Recent(ctx, userID)
	if err != nil {
		return nil, true, err
	}

	entries = make([]VaultEntry, 0, len(raw))
	for _, e := range raw {
		name := "Anonymous"
		if partner, err := s.store.Get(ctx, e.PartnerID); err == nil && partner.Profile.Name != "" {
			name = partner.Profile.Name
		}
		entries = append(entries, VaultEntry{
			PartnerName: name,
			Text:        e.Text,
			At:          time.Unix(e.Ts, 0),
		})
	}
	return entries, true, nil
}

// vaultCopy appends the message to owner's vault if the vault entitlement
// is active at send time. Failures never block the relay.
func (s *Service) vaultCopy(ctx context.Context, owner *user.User, partnerID int64, text string, now time.Time) {
	if !owner.HasFeature(user.FeatureVault, now) {
		return
	}
	err := s.vault.Append(ctx, owner.ID, vault.Entry{
		PartnerID: partnerID,
		Text:      text,
		Ts:        now.Unix(),
	})
	if err != nil {
		log.Printf("[chat] vault append for %d: %v", owner.ID, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("vaulted").Inc()
}
