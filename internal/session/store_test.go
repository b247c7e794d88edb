package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), nil)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestRedisStoreSaveLookupRevoke(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "sid-1", "uid-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	uid, err := store.Lookup(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if uid != "uid-1" {
		t.Errorf("expected uid-1, got %s", uid)
	}

	if err := store.Revoke(ctx, "sid-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "sid-1"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded after revoke, got %v", err)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "sid-2", "uid-2", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Minute)
	if _, err := store.Lookup(ctx, "sid-2"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected expired session, got %v", err)
	}
}

func TestRedisStoreTTLFollowsClock(t *testing.T) {
	s := miniredis.RunT(t)
	clock := clockwork.NewFakeClock()
	store, err := NewRedisStore("redis://"+s.Addr(), clock)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	if err := store.Save(ctx, "sid-3", "uid-3", clock.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if ttl := s.TTL("session:sid-3"); ttl != time.Minute {
		t.Errorf("expected ttl of one minute, got %v", ttl)
	}
	if err := store.Save(ctx, "sid-4", "uid-4", clock.Now()); err == nil {
		t.Error("expected already-expired session to be rejected")
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	if _, err := NewRedisStore("redis://127.0.0.1:1", nil); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	if err := store.Save(ctx, "sid", "uid", clock.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if uid, err := store.Lookup(ctx, "sid"); err != nil || uid != "uid" {
		t.Fatalf("Lookup = %q, %v", uid, err)
	}
	clock.Advance(time.Minute)
	if _, err := store.Lookup(ctx, "sid"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}
