package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transitops/movi/internal/domain"
)

const defaultKeyPrefix = "movi:thread:"

// RedisStore implements Store using Redis. The full state is stored as one
// JSON value per thread, plus a ZSET index scored by last-update time so
// pruning does not need a key scan.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets a per-key expiration for checkpoints.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for checkpoints.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedis creates a Redis-backed checkpoint store.
func NewRedis(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisFromClient(client, opts...)
}

// NewRedisFromClient creates a Redis-backed checkpoint store from an
// existing client.
func NewRedisFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Load retrieves the state for a thread.
func (s *RedisStore) Load(ctx context.Context, threadID string) (*domain.ThreadState, error) {
	val, err := s.client.Get(ctx, s.key(threadID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint for thread %s: %w", threadID, err)
	}

	var state domain.ThreadState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint for thread %s: %w", threadID, err)
	}
	return &state, nil
}

// Save persists the full state for a thread. The value write and the index
// update go through one pipeline so a successful Save leaves both in place.
func (s *RedisStore) Save(ctx context.Context, state *domain.ThreadState) error {
	if state == nil || state.ThreadID == "" {
		return fmt.Errorf("checkpoint state must have a thread_id")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint for thread %s: %w", state.ThreadID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(state.ThreadID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: state.ThreadID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint for thread %s: %w", state.ThreadID, err)
	}
	return nil
}

// Delete removes the checkpoint for a thread.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint for thread %s: %w", threadID, err)
	}
	return nil
}

// PruneOlderThan removes checkpoints idle for longer than ttl.
func (s *RedisStore) PruneOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := fmt.Sprintf("%d", time.Now().Add(-ttl).Unix())

	stale, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list stale checkpoints: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	for _, threadID := range stale {
		pipe.Del(ctx, s.key(threadID))
	}
	pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("prune stale checkpoints: %w", err)
	}
	return int64(len(stale)), nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
