// Package vault persists the optional per-user message log in Redis. Each
// user's vault is a capped list under vault:<id>, newest first. Partner
// names are never denormalized into storage; readers resolve them at read
// time so renames show up retroactively.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/chatdude/anonchat/internal/errs"
)

const (
	// VaultPrefix is the Redis key prefix for vault lists.
	VaultPrefix = "vault:"

	// MaxStored caps the per-user list length.
	MaxStored = 100

	// ReadLimit is how many entries a read returns, newest first.
	ReadLimit = 10
)

// Entry is one vaulted message.
type Entry struct {
	PartnerID int64  `json:"partner_id"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"` // unix seconds
}

// Store manages vault lists in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a vault store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Append adds an entry to the front of the owner's vault and trims the list
// to MaxStored.
func (s *Store) Append(ctx context.Context, ownerID int64, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("vault: encode entry: %w", err)
	}

	key := key(ownerID)
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, MaxStored-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("vault: append for %d: %w", ownerID, errors.Join(errs.ErrPersistence, err))
	}
	return nil
}

// Recent returns up to ReadLimit entries, newest first. An empty vault
// returns an empty slice, not an error.
func (s *Store) Recent(ctx context.Context, ownerID int64) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, key(ownerID), 0, ReadLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("vault: read for %d: %w", ownerID, errors.Join(errs.ErrPersistence, err))
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("vault: decode entry for %d: %w", ownerID, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Purge deletes the owner's entire vault (user deletion).
func (s *Store) Purge(ctx context.Context, ownerID int64) error {
	if err := s.client.Del(ctx, key(ownerID)).Err(); err != nil {
		return fmt.Errorf("vault: purge for %d: %w", ownerID, errors.Join(errs.ErrPersistence, err))
	}
	return nil
}

func key(ownerID int64) string {
	return fmt.Sprintf("%s%d", VaultPrefix, ownerID)
}
