package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is an in-memory key/value store with per-entry expiry.
//
// Expiry is lazy: an expired entry is removed when it is read. PurgeExpired
// sweeps the rest and is meant to be driven by a caller-owned timer (see Janitor).
type Store struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	clock      Clock
	defaultTTL time.Duration
	logger     zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source used for expiry decisions.
func WithClock(clock Clock) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDefaultTTL sets the lifetime used when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries:    make(map[string]*Entry),
		clock:      SystemClock,
		defaultTTL: DefaultTTL,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set inserts or overwrites key. A ttl <= 0 uses the store default.
// The expiry clock for key restarts at the current time.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.clock.Now()

	s.mu.Lock()
	s.entries[key] = &Entry{
		Key:       key,
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
		TTL:       ttl,
	}
	n := len(s.entries)
	s.mu.Unlock()

	CacheEntries.WithLabelValues("memory").Set(float64(n))
	s.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cache set")
}

// Get returns the value for key if present and unexpired.
// An expired entry is deleted before reporting absence.
func (s *Store) Get(key string) (any, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		CacheMisses.Inc()
		return nil, false
	}
	if entry.IsExpired(now) {
		delete(s.entries, key)
		n := len(s.entries)
		s.mu.Unlock()

		CacheEntries.WithLabelValues("memory").Set(float64(n))
		CacheMisses.Inc()
		s.logger.Debug().Str("key", key).Msg("Cache entry expired on read")
		return nil, false
	}
	value := entry.Value
	s.mu.Unlock()

	CacheHits.WithLabelValues("memory").Inc()
	return value, true
}

// Has reports whether key is present and unexpired.
func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes key and reports whether anything was removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	n := len(s.entries)
	s.mu.Unlock()

	if ok {
		CacheEntries.WithLabelValues("memory").Set(float64(n))
	}
	return ok
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	CacheEntries.WithLabelValues("memory").Set(0)
}

// PurgeExpired removes every entry whose expiry lies strictly before now
// and returns how many were removed.
func (s *Store) PurgeExpired() int {
	now := s.clock.Now()

	s.mu.Lock()
	purged := 0
	for key, entry := range s.entries {
		if entry.ExpiresAt.Before(now) {
			delete(s.entries, key)
			purged++
		}
	}
	n := len(s.entries)
	s.mu.Unlock()

	if purged > 0 {
		CachePurged.Add(float64(purged))
		CacheEntries.WithLabelValues("memory").Set(float64(n))
	}
	return purged
}

// GetMeta returns the metadata for key. Expired entries are still reported;
// this is a diagnostic view and does not trigger lazy removal.
func (s *Store) GetMeta(key string) (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Meta{}, false
	}
	return entry.Meta(), true
}

// GetStats scans all entries. ApproxSizeBytes is the JSON-encoded length of
// the stored values; values that cannot be encoded count as zero.
func (s *Store) GetStats() Stats {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{TotalEntries: len(s.entries)}
	for _, entry := range s.entries {
		if entry.IsExpired(now) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
		stats.ApproxSizeBytes += approxSize(entry.Value)
	}
	return stats
}

// Keys returns all stored keys, expired or not, in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of stored entries including expired ones not yet removed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func approxSize(value any) int {
	switch v := value.(type) {
	case nil:
		return 0
	case []byte:
		return len(v)
	case json.RawMessage:
		return len(v)
	case string:
		return len(v)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(data)
}
