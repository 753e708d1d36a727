package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidDriver indicates an unknown store driver name.
	ErrInvalidDriver = errors.New("invalid history store driver")

	// ErrMissingRedisClient indicates the redis driver was requested without a client.
	ErrMissingRedisClient = errors.New("redis driver requires a client")
)

// Store persists conversation turns per session.
//
// Append must be atomic per session: two concurrent appends for the same
// session may interleave in either order but never corrupt or drop turns.
type Store interface {
	// Append adds turns to the end of a session's history.
	Append(ctx context.Context, sessionID string, turns ...Turn) error

	// Window returns the most recent k turns, oldest first.
	Window(ctx context.Context, sessionID string, k int) ([]Turn, error)

	// Len returns the number of turns stored for a session.
	Len(ctx context.Context, sessionID string) (int, error)

	// Close releases store resources.
	Close() error
}

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
}

// WithRedisClient sets the Redis client for the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithRedisTTL sets the expiry applied to session keys in Redis.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// NewStore creates a history store. Supported drivers: "memory", "redis".
func NewStore(driver string, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		if cfg.redisClient == nil {
			return nil, ErrMissingRedisClient
		}
		ttl := cfg.redisTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return &redisStore{client: cfg.redisClient, ttl: ttl}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
}

// MemoryStore keeps history in a process-local map. Appends for a session
// are serialized by the store mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Turn)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], turns...)
	return nil
}

// Window implements Store.
func (s *MemoryStore) Window(_ context.Context, sessionID string, k int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := Window(s.sessions[sessionID], k)
	out := make([]Turn, len(window))
	copy(out, window)
	return out, nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID]), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	return nil
}

// redisStore keeps each session as a Redis list of JSON-encoded turns.
// RPUSH makes multi-turn appends atomic without optimistic locking.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func historyKey(sessionID string) string {
	return "history:" + sessionID
}

// Append implements Store.
func (s *redisStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	vals := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling turn: %w", err)
		}
		vals = append(vals, b)
	}

	key := historyKey(sessionID)
	if err := s.client.RPush(ctx, key, vals...).Err(); err != nil {
		return fmt.Errorf("appending turns: %w", err)
	}
	// Best-effort TTL refresh; the data is reconstructible conversation
	// state, not a durability concern.
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return nil
}

// Window implements Store.
func (s *redisStore) Window(ctx context.Context, sessionID string, k int) ([]Turn, error) {
	if k <= 0 {
		return nil, nil
	}

	vals, err := s.client.LRange(ctx, historyKey(sessionID), int64(-k), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history window: %w", err)
	}

	turns := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var t Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("unmarshaling turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Len implements Store.
func (s *redisStore) Len(ctx context.Context, sessionID string) (int, error) {
	n, err := s.client.LLen(ctx, historyKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading history length: %w", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}
