package vault

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestRecent_NewestFirstCappedAtTen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		err := store.Append(ctx, 1, Entry{PartnerID: 2, Text: fmt.Sprintf("msg %d", i), Ts: int64(i)})
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	entries, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != ReadLimit {
		t.Fatalf("len = %d, want %d", len(entries), ReadLimit)
	}
	if entries[0].Text != "msg 14" {
		t.Errorf("first entry = %q, want the newest message", entries[0].Text)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Ts > entries[i-1].Ts {
			t.Fatalf("entries not in newest-first order at index %d", i)
		}
	}
}

func TestRecent_EmptyVault(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.Recent(context.Background(), 42)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestPurge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, 1, Entry{PartnerID: 2, Text: "bye", Ts: 1})
	if err := store.Purge(ctx, 1); err != nil {
		t.Fatalf("Purge() error: %v", err)
	}

	entries, err := store.Recent(ctx, 1)
	if err != nil || len(entries) != 0 {
		t.Errorf("vault not purged: %v, %v", entries, err)
	}
}
