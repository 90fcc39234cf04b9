package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by RedisStore.
const DefaultRedisPrefix = "incident:cache:"

// RedisStore is a Backend shared across processes through Redis.
// Entries carry their own ExpiresAt and Redis expires them natively as well.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	clock  Clock
}

// NewRedisStore creates a Redis-backed store. A nil clock uses SystemClock.
func NewRedisStore(redisClient *redis.Client, clock Clock) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if clock == nil {
		clock = SystemClock
	}

	return &RedisStore{
		redis:  redisClient,
		prefix: DefaultRedisPrefix,
		clock:  clock,
	}
}

func (r *RedisStore) redisKey(key string) string {
	return r.prefix + key
}

// Load implements Backend.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.redis.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var stored redisEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if r.clock.Now().After(stored.ExpiresAt) {
		_, _ = r.Remove(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	return stored.Payload, nil
}

// Save implements Backend. A ttl <= 0 uses DefaultTTL.
func (r *RedisStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := r.clock.Now()

	data, err := json.Marshal(redisEntry{
		Payload:   payload,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
		TTL:       ttl,
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := r.redis.Set(ctx, r.redisKey(key), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Remove implements Backend.
func (r *RedisStore) Remove(ctx context.Context, key string) (bool, error) {
	n, err := r.redis.Del(ctx, r.redisKey(key)).Result()
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

// GetMeta returns the stored metadata for key.
func (r *RedisStore) GetMeta(ctx context.Context, key string) (Meta, error) {
	data, err := r.redis.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Meta{}, ErrCacheMiss
		}
		return Meta{}, fmt.Errorf("redis get: %w", err)
	}

	var stored redisEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return Meta{StoredAt: stored.StoredAt, ExpiresAt: stored.ExpiresAt, TTL: stored.TTL}, nil
}

// redisEntry is the JSON document stored per key.
type redisEntry struct {
	Payload   []byte        `json:"payload"`
	StoredAt  time.Time     `json:"stored_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
}
