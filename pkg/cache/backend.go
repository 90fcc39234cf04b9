package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Backend is the storage contract used by the request coordinator.
// Payloads are raw response bodies.
type Backend interface {
	// Load returns the payload for key, or ErrCacheMiss.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores payload under key for ttl.
	Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Remove deletes key and reports whether it existed.
	Remove(ctx context.Context, key string) (bool, error)
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*RedisStore)(nil)
)

// Load implements Backend. The returned slice is a copy; callers may modify it.
func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	value, ok := s.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	payload, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds %T", ErrInvalidEntry, key, value)
	}
	return bytes.Clone(payload), nil
}

// Save implements Backend. payload is copied before it is stored.
func (s *Store) Save(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	s.Set(key, bytes.Clone(payload), ttl)
	return nil
}

// Remove implements Backend.
func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	return s.Delete(key), nil
}
