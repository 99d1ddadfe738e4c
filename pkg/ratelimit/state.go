// Package ratelimit implements a per-customer order creation limit.
// Counters live in Redis so every client instance shares the same
// fixed window per customer.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix prefixes the per-customer window counters.
const RedisKeyPrefix = "orders:ratelimit:customer:"

// Defaults for the order creation window.
const (
	// DefaultLimit is the number of orders one customer may create per window.
	DefaultLimit = 10

	// DefaultWindow is the length of the fixed window.
	DefaultWindow = time.Hour

	// WarningRatio marks a window as nearly exhausted once this share of the limit is used.
	WarningRatio = 0.8
)

// WindowState represents one customer's current order creation window.
type WindowState struct {
	// CustomerID owns the window.
	CustomerID string `json:"customer_id"`

	// Count is the number of creations attempted in the window, including the current one.
	Count int64 `json:"count"`

	// Limit is the maximum allowed creations per window.
	Limit int64 `json:"limit"`

	// ResetAt is when the window expires and the count starts over.
	ResetAt time.Time `json:"reset_at"`
}

// Remaining returns the creations left in this window, never negative.
func (s *WindowState) Remaining() int64 {
	if s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}

// IsExceeded returns true if the count is over the limit.
func (s *WindowState) IsExceeded() bool {
	return s.Count > s.Limit
}

// NeedsWarning returns true when the window is nearly used up but not yet exceeded.
func (s *WindowState) NeedsWarning() bool {
	return !s.IsExceeded() && float64(s.Count) >= float64(s.Limit)*WarningRatio
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *WindowState) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
