package redis

import (
	"context"
	"testing"
	"time"
)

func TestFixedWindowStore_IncrementAndReset(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewFixedWindowStore(client, "rl:login")
	ctx := context.Background()
	window := 15 * time.Minute

	for want := int64(1); want <= 6; want++ {
		count, ttl, err := store.Increment(ctx, "10.0.0.1", window)
		if err != nil {
			t.Fatalf("Increment returned error: %v", err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
		if ttl <= 0 || ttl > window {
			t.Fatalf("expected ttl within (0, %v], got %v", window, ttl)
		}
	}

	server.FastForward(window + time.Second)

	count, _, err := store.Increment(ctx, "10.0.0.1", window)
	if err != nil {
		t.Fatalf("Increment after window returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected counter reset after window, got %d", count)
	}
}

func TestFixedWindowStore_WindowNotExtendedByLaterHits(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewFixedWindowStore(client, "")
	ctx := context.Background()
	window := time.Minute

	if _, _, err := store.Increment(ctx, "user-1", window); err != nil {
		t.Fatalf("Increment returned error: %v", err)
	}
	server.FastForward(40 * time.Second)
	_, ttl, err := store.Increment(ctx, "user-1", window)
	if err != nil {
		t.Fatalf("Increment returned error: %v", err)
	}
	if ttl > 20*time.Second {
		t.Fatalf("expected remaining window <= 20s, got %v", ttl)
	}
	if got := server.TTL("rl:user-1"); got > 20*time.Second {
		t.Fatalf("expected key ttl unchanged by second hit, got %v", got)
	}
}

func TestFixedWindowStore_RearmsMissingExpiry(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewFixedWindowStore(client, "rl")

	if err := server.Set("rl:stuck", "3"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	count, ttl, err := store.Increment(context.Background(), "stuck", time.Minute)
	if err != nil {
		t.Fatalf("Increment returned error: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected count 4, got %d", count)
	}
	if ttl != time.Minute {
		t.Fatalf("expected window re-armed to 1m, got %v", ttl)
	}
}

func TestFixedWindowStore_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFixedWindowStore(client, "rl")

	if _, _, err := store.Increment(context.Background(), "", time.Minute); err == nil {
		t.Fatalf("expected error for empty identifier")
	}
	if _, _, err := store.Increment(context.Background(), "id", 0); err == nil {
		t.Fatalf("expected error for non-positive window")
	}
}
