package cache

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultTTL is the lifetime of entries written by the read-through path.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries caps the in-memory store.
	DefaultMaxEntries = 10000

	// DefaultSweepInterval is how often the in-memory janitor drops expired entries.
	DefaultSweepInterval = time.Minute
)

var (
	// ErrCacheMiss indicates the key was not found or its entry has expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a tag-indexed response cache.
//
// Implementations must never return an entry past its expiry and must be
// safe for concurrent use.
type Store interface {
	// Get returns the live entry for key, or ErrCacheMiss.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Set inserts or replaces the entry for key.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration, tags ...string) error

	// Delete removes the entry for key if present.
	Delete(ctx context.Context, key Key) error

	// Invalidate removes every entry tagged with tag and returns how many were dropped.
	Invalidate(ctx context.Context, tag string) (int, error)
}
