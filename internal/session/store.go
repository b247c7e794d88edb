package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
)

// Store tracks live sessions so a signed token stops working the moment its
// session is signed out, well before the token itself expires.
type Store interface {
	Save(ctx context.Context, sid, uid string, expiresAt time.Time) error
	Lookup(ctx context.Context, sid string) (string, error)
	Revoke(ctx context.Context, sid string) error
}

type sessionData struct {
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore implements Store using Redis keys with a TTL
type RedisStore struct {
	client *redis.Client
	clock  clockwork.Clock
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string, clock clockwork.Clock) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, clock), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, clock clockwork.Clock) *RedisStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisStore{client: client, clock: clock, prefix: "session:"}
}

func (s *RedisStore) key(sid string) string {
	return s.prefix + sid
}

func (s *RedisStore) Save(ctx context.Context, sid, uid string, expiresAt time.Time) error {
	now := s.clock.Now()
	raw, err := json.Marshal(sessionData{UID: uid, CreatedAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return apperr.New(apperr.Validation, "session already expired")
	}
	if err := s.client.Set(ctx, s.key(sid), raw, ttl).Err(); err != nil {
		return apperr.Wrap(apperr.Unavailable, "save session", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, sid string) (string, error) {
	raw, err := s.client.Get(ctx, s.key(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionEnded
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Unavailable, "lookup session", err)
	}
	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", fmt.Errorf("unmarshal session: %w", err)
	}
	return data.UID, nil
}

func (s *RedisStore) Revoke(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, s.key(sid)).Err(); err != nil {
		return apperr.Wrap(apperr.Unavailable, "revoke session", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore is a single-process Store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	live  map[string]memoryEntry
}

type memoryEntry struct {
	uid       string
	expiresAt time.Time
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{clock: clock, live: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Save(ctx context.Context, sid, uid string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[sid] = memoryEntry{uid: uid, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, sid string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live[sid]
	if !ok {
		return "", ErrSessionEnded
	}
	if !s.clock.Now().Before(e.expiresAt) {
		delete(s.live, sid)
		return "", ErrSessionEnded
	}
	return e.uid, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, sid)
	return nil
}
