package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidDriver indicates an unknown store driver name.
	ErrInvalidDriver = errors.New("invalid rate limit store driver")

	// ErrMissingRedisClient indicates the redis driver was requested without a client.
	ErrMissingRedisClient = errors.New("redis driver requires a client")
)

// Store records the last-seen time per client identifier.
type Store interface {
	// Touch atomically records now as the identifier's last-seen time and
	// returns the previous value. seen is false on first sighting.
	Touch(ctx context.Context, clientID string, now time.Time) (prev time.Time, seen bool, err error)

	// Close releases store resources.
	Close() error
}

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// WithRedisClient sets the Redis client for the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithTTL sets how long an idle identifier is remembered. For the memory
// driver this bounds the sweep threshold; for Redis it is the key TTL.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.ttl = ttl }
}

// NewStore creates a last-seen store. Supported drivers: "memory", "redis".
func NewStore(driver string, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	ttl := cfg.ttl
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	switch driver {
	case "memory":
		return NewMemoryStore(ttl), nil
	case "redis":
		if cfg.redisClient == nil {
			return nil, ErrMissingRedisClient
		}
		return &redisStore{client: cfg.redisClient, ttl: ttl}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
}

const sweepInterval = 5 * time.Minute

// MemoryStore keeps last-seen times in a process-local map. Stale entries
// are swept inline during Touch so the map cannot grow without bound.
type MemoryStore struct {
	mu        sync.Mutex
	lastSeen  map[string]time.Time
	stale     time.Duration
	lastSweep time.Time
}

// NewMemoryStore creates an in-memory store that forgets identifiers idle
// longer than stale.
func NewMemoryStore(stale time.Duration) *MemoryStore {
	return &MemoryStore{
		lastSeen:  make(map[string]time.Time),
		stale:     stale,
		lastSweep: time.Now(),
	}
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, clientID string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > sweepInterval {
		for id, t := range s.lastSeen {
			if now.Sub(t) > s.stale {
				delete(s.lastSeen, id)
			}
		}
		s.lastSweep = now
	}

	prev, seen := s.lastSeen[clientID]
	s.lastSeen[clientID] = now
	return prev, seen, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = nil
	return nil
}

// redisStore records last-seen times in Redis. SET with GET is a single
// atomic command, so concurrent requests from one identifier cannot both
// observe the same stale value.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func limitKey(clientID string) string {
	return "ratelimit:" + clientID
}

// Touch implements Store.
func (s *redisStore) Touch(ctx context.Context, clientID string, now time.Time) (time.Time, bool, error) {
	prev, err := s.client.SetArgs(ctx, limitKey(clientID), now.UnixMilli(), redis.SetArgs{
		Get: true,
		TTL: s.ttl,
	}).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("touching rate limit key: %w", err)
	}

	ms, err := strconv.ParseInt(prev, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing last-seen value %q: %w", prev, err)
	}
	return time.UnixMilli(ms), true, nil
}

// Close implements Store. The Redis client may be shared with the history
// store, so its lifetime belongs to the caller.
func (s *redisStore) Close() error {
	return nil
}
