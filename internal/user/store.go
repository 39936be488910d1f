package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatdude/anonchat/internal/errs"
)

const (
	// UserPrefix is the Redis key prefix for user records.
	UserPrefix = "user:"

	// ChargePrefix is the Redis key prefix for redeemed payment charges.
	ChargePrefix = "payment:charge:"

	// ChargeTTL is how long a redeemed charge ID is remembered for
	// duplicate rejection.
	ChargeTTL = 90 * 24 * time.Hour
)

// Store persists user records in Redis. Each record is one JSON document
// under user:<id>, so profile, entitlement and ban fields commit in a single
// write.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("user: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing Redis client (used by tests).
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get retrieves a user record. Returns errs.ErrNotFound if no record exists.
func (s *Store) Get(ctx context.Context, id int64) (*User, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("user %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("user: get %d: %w", id, errors.Join(errs.ErrPersistence, err))
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("user: decode %d: %w", id, err)
	}
	if u.Grants == nil {
		u.Grants = make(map[Feature]Grant)
	}
	return &u, nil
}

// Upsert writes the full record. This is the one atomic multi-field update:
// callers mutate a loaded copy and commit it here.
func (s *Store) Upsert(ctx context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("user: encode %d: %w", u.ID, err)
	}
	if err := s.client.Set(ctx, key(u.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("user: upsert %d: %w", u.ID, errors.Join(errs.ErrPersistence, err))
	}
	return nil
}

// Delete removes a user record. Deleting a missing record is a no-op.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("user: delete %d: %w", id, errors.Join(errs.ErrPersistence, err))
	}
	return nil
}

// MarkCharge records a payment charge ID. Returns false if the charge was
// already redeemed, so replayed payment confirmations grant nothing.
func (s *Store) MarkCharge(ctx context.Context, chargeID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, ChargePrefix+chargeID, 1, ChargeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("user: mark charge: %w", errors.Join(errs.ErrPersistence, err))
	}
	return ok, nil
}

// UnmarkCharge releases a charge ID so a redelivered confirmation can be
// redeemed again. Called when the grant behind the charge failed to commit.
func (s *Store) UnmarkCharge(ctx context.Context, chargeID string) error {
	if err := s.client.Del(ctx, ChargePrefix+chargeID).Err(); err != nil {
		return fmt.Errorf("user: unmark charge: %w", errors.Join(errs.ErrPersistence, err))
	}
	return nil
}

// IDs scans all stored user IDs. Used by the admin broadcast; the scan is
// cursor-based so large keyspaces do not block Redis.
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	var (
		ids    []int64
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, UserPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("user: scan: %w", errors.Join(errs.ErrPersistence, err))
		}
		for _, k := range keys {
			var id int64
			if _, err := fmt.Sscanf(k, UserPrefix+"%d", &id); err == nil {
				ids = append(ids, id)
			}
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

func key(id int64) string {
	return fmt.Sprintf("%s%d", UserPrefix, id)
}
