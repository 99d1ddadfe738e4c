package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrOrderLimitExceeded is returned when a customer has used up the current window.
var ErrOrderLimitExceeded = errors.New("order creation limit exceeded")

// Prometheus metrics for order creation limiting.
var (
	ordersAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_ratelimit_allowed_total",
		Help: "Order creations allowed by the per-customer limit",
	})

	ordersBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_ratelimit_blocked_total",
		Help: "Order creations blocked by the per-customer limit",
	})

	ordersNearLimitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_ratelimit_near_limit_total",
		Help: "Order creations allowed while the customer's window was nearly used up",
	})
)

// Config holds the limiter configuration.
type Config struct {
	// Limit is the maximum number of orders per customer per window.
	Limit int64 `yaml:"limit" validate:"gte=0"`

	// Window is the fixed window length. Redis tracks it with second granularity.
	Window time.Duration `yaml:"window" validate:"gte=0"`
}

// DefaultConfig returns DefaultLimit orders per DefaultWindow.
func DefaultConfig() Config {
	return Config{Limit: DefaultLimit, Window: DefaultWindow}
}

// Limiter gates order creation per customer using a Redis fixed window.
type Limiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewLimiter creates a new order creation limiter.
func NewLimiter(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Limiter {
	if redisClient == nil {
		panic("redis client is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	return &Limiter{
		redis:  redisClient,
		limit:  cfg.Limit,
		window: cfg.Window,
		logger: logger,
		now:    time.Now,
	}
}

func redisKey(customerID string) string {
	return RedisKeyPrefix + customerID
}

// Allow counts one order creation for customerID. It returns the window
// state and ErrOrderLimitExceeded if the creation must be refused.
// Blocked attempts still count toward the window.
func (l *Limiter) Allow(ctx context.Context, customerID string) (*WindowState, error) {
	key := redisKey(customerID)

	// The first hit of a window sets its expiry; later hits leave it running.
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("increment order window: %w", err)
	}

	ttl := pttl.Val()
	if ttl <= 0 {
		ttl = l.window
	}

	state := &WindowState{
		CustomerID: customerID,
		Count:      incr.Val(),
		Limit:      l.limit,
		ResetAt:    l.now().Add(ttl),
	}

	if state.IsExceeded() {
		ordersBlockedTotal.Inc()
		l.logger.Warn().
			Str("customer_id", customerID).
			Int64("count", state.Count).
			Int64("limit", state.Limit).
			Dur("reset_in", ttl).
			Msg("Order creation limit exceeded - blocking request")
		return state, ErrOrderLimitExceeded
	}

	ordersAllowedTotal.Inc()
	if state.NeedsWarning() {
		ordersNearLimitTotal.Inc()
		l.logger.Info().
			Str("customer_id", customerID).
			Int64("remaining", state.Remaining()).
			Msg("Customer is close to the order creation limit")
	}

	return state, nil
}

// State returns the customer's current window without counting anything.
// A customer without an active window gets a fresh, empty state.
func (l *Limiter) State(ctx context.Context, customerID string) (*WindowState, error) {
	key := redisKey(customerID)

	pipe := l.redis.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get order window: %w", err)
	}

	now := l.now()
	count, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return &WindowState{CustomerID: customerID, Limit: l.limit, ResetAt: now.Add(l.window)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse order window: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}

	return &WindowState{
		CustomerID: customerID,
		Count:      count,
		Limit:      l.limit,
		ResetAt:    now.Add(ttl),
	}, nil
}

// Reset clears the customer's window.
func (l *Limiter) Reset(ctx context.Context, customerID string) error {
	if err := l.redis.Del(ctx, redisKey(customerID)).Err(); err != nil {
		return fmt.Errorf("reset order window: %w", err)
	}
	return nil
}
