package cache

import (
	"time"
)

// Entry represents a cached upstream response body.
type Entry struct {
	// Value is the serialized response body.
	Value []byte `json:"value"`

	// Expires is when the entry stops being served.
	Expires time.Time `json:"expires"`

	// Tags allow bulk invalidation of related entries.
	Tags []string `json:"tags,omitempty"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired reports whether the entry is past its expiry at the given instant.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL returns the remaining lifetime at the given instant, or 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// HasTag reports whether the entry carries tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
