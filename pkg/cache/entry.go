package cache

import (
	"time"
)

// DefaultTTL is the lifetime applied when a caller passes no ttl.
const DefaultTTL = 5 * time.Minute

// Entry represents a cached value with its own lifetime.
type Entry struct {
	// Key is the request key the value was stored under
	Key string `json:"key"`

	// Value is the cached payload
	Value any `json:"value"`

	// StoredAt is when the entry was inserted or last overwritten
	StoredAt time.Time `json:"stored_at"`

	// ExpiresAt is StoredAt + TTL
	ExpiresAt time.Time `json:"expires_at"`

	// TTL is the lifetime requested by the caller
	TTL time.Duration `json:"ttl"`
}

// Meta is the introspection view of an entry, without its value.
type Meta struct {
	StoredAt  time.Time     `json:"stored_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
}

// Stats summarizes the store contents at the time of the call.
type Stats struct {
	TotalEntries    int `json:"total_entries"`
	ValidEntries    int `json:"valid_entries"`
	ExpiredEntries  int `json:"expired_entries"`
	ApproxSizeBytes int `json:"approx_size_bytes"`
}

// IsExpired reports whether the entry is no longer observable at now.
// An entry is still valid at exactly ExpiresAt.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Remaining returns the time left until expiration.
// Returns 0 if already expired.
func (e *Entry) Remaining(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Meta returns the entry metadata.
func (e *Entry) Meta() Meta {
	return Meta{
		StoredAt:  e.StoredAt,
		ExpiresAt: e.ExpiresAt,
		TTL:       e.TTL,
	}
}

// Clock supplies the current time. Tests inject a controllable clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
