// Package monitor aggregates request outcomes, cache effectiveness and
// order/session/webhook counters for the order API client, summarizes them
// with threshold-based recommendations and periodically flushes snapshots to
// sinks.
package monitor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/order-api-client/pkg/logging"
)

// DefaultFlushInterval is how often Start flushes snapshots to the sinks.
const DefaultFlushInterval = 5 * time.Minute

// Counters are the aggregate counters kept for the life of the process.
type Counters struct {
	APICallsTotal   int64 `json:"api_calls_total"`
	APICallsSuccess int64 `json:"api_calls_success"`
	APICallsFailed  int64 `json:"api_calls_failed"`

	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	OrdersCreated       int64 `json:"orders_created"`
	OrdersFailed        int64 `json:"orders_failed"`
	OrdersLimitExceeded int64 `json:"orders_limit_exceeded"`

	SessionsCreated int64 `json:"sessions_created"`
	SessionsCleaned int64 `json:"sessions_cleaned"`
	SessionsActive  int64 `json:"sessions_active"`

	WebhooksReceived  int64 `json:"webhooks_received"`
	WebhooksProcessed int64 `json:"webhooks_processed"`
	WebhooksFailed    int64 `json:"webhooks_failed"`

	// Streaming means in milliseconds.
	AvgResponseTimeMs    float64 `json:"avg_response_time_ms"`
	AvgOrderProcessingMs float64 `json:"avg_order_processing_ms"`
}

// Config configures a Monitor.
type Config struct {
	// FlushInterval is the period of the background flush. Zero means DefaultFlushInterval.
	FlushInterval time.Duration

	// Registerer receives the Prometheus mirrors of the counters. Nil disables them.
	Registerer prometheus.Registerer

	// Sinks receive a Snapshot on every flush.
	Sinks []Sink
}

// Monitor records request and domain metrics. All Record methods are safe
// for concurrent use, never block on I/O and never panic into the caller.
// A nil *Monitor is a valid no-op recorder.
type Monitor struct {
	mu       sync.Mutex
	counters Counters
	series   map[string]*ring
	started  time.Time

	now      func() time.Time
	logger   zerolog.Logger
	sinks    []Sink
	interval time.Duration
	prom     *collectors

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. Call Start to begin periodic flushing.
func New(cfg Config) *Monitor {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	m := &Monitor{
		series:   make(map[string]*ring),
		now:      time.Now,
		logger:   logging.NewLogger("performance-monitor"),
		sinks:    cfg.Sinks,
		interval: cfg.FlushInterval,
	}
	m.started = m.now()

	if cfg.Registerer != nil {
		m.prom = newCollectors(cfg.Registerer)
	}

	return m
}

// record runs fn under the lock and swallows any panic.
func (m *Monitor) record(op string, fn func()) {
	if m == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("op", op).Interface("panic", r).Msg("Metrics recording failed")
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// appendLocked adds an entry to a named series. Callers must hold m.mu.
func (m *Monitor) appendLocked(name string, value float64, metadata map[string]string) {
	r, ok := m.series[name]
	if !ok {
		r = newRing(SeriesCapacity)
		m.series[name] = r
	}
	r.append(MetricEntry{Timestamp: m.now(), Value: value, Metadata: metadata})
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// streamingMean folds value into mean as the count-th observation.
func streamingMean(mean, value float64, count int64) float64 {
	if count <= 0 {
		return value
	}
	return mean + (value-mean)/float64(count)
}

// RecordAPICall records the outcome and latency of one upstream attempt.
func (m *Monitor) RecordAPICall(endpoint string, success bool, latency time.Duration) {
	m.record("api_call", func() {
		ms := millis(latency)
		m.counters.APICallsTotal++
		if success {
			m.counters.APICallsSuccess++
		} else {
			m.counters.APICallsFailed++
		}
		m.counters.AvgResponseTimeMs = streamingMean(m.counters.AvgResponseTimeMs, ms, m.counters.APICallsTotal)
		m.appendLocked(SeriesAPIResponseTime, ms, map[string]string{
			"endpoint": endpoint,
			"success":  strconv.FormatBool(success),
		})
		m.prom.apiCall(endpoint, success, latency)
	})
}

// RecordCacheHit records a facade-level cache hit.
func (m *Monitor) RecordCacheHit(resource string) {
	m.record("cache_hit", func() {
		m.counters.CacheHits++
		m.prom.cacheLookup(resource, true)
	})
}

// RecordCacheMiss records a facade-level cache miss.
func (m *Monitor) RecordCacheMiss(resource string) {
	m.record("cache_miss", func() {
		m.counters.CacheMisses++
		m.prom.cacheLookup(resource, false)
	})
}

// RecordOrderCreated records a successful order creation and its end-to-end processing time.
func (m *Monitor) RecordOrderCreated(processing time.Duration) {
	m.record("order_created", func() {
		ms := millis(processing)
		m.counters.OrdersCreated++
		m.counters.AvgOrderProcessingMs = streamingMean(m.counters.AvgOrderProcessingMs, ms, m.counters.OrdersCreated)
		m.appendLocked(SeriesOrderProcessing, ms, nil)
		m.prom.orderCreated(processing)
	})
}

// RecordOrderFailed records a failed order creation.
func (m *Monitor) RecordOrderFailed(reason string) {
	m.record("order_failed", func() {
		m.counters.OrdersFailed++
		m.appendLocked(SeriesOrderFailures, 1, map[string]string{"reason": reason})
		m.prom.orderFailed(reason)
	})
}

// RecordOrderLimitExceeded records an order creation refused by the per-customer limit.
func (m *Monitor) RecordOrderLimitExceeded(customer string) {
	m.record("order_limit_exceeded", func() {
		m.counters.OrdersLimitExceeded++
		m.appendLocked(SeriesOrderLimit, 1, map[string]string{"customer": customer})
		m.prom.orderLimitExceeded()
	})
}

// RecordSessionCreated records a new checkout session.
func (m *Monitor) RecordSessionCreated() {
	m.record("session_created", func() {
		m.counters.SessionsCreated++
		m.counters.SessionsActive++
		m.prom.sessionsActive(m.counters.SessionsActive)
	})
}

// RecordSessionCleaned records n expired sessions removed by a cleanup pass.
func (m *Monitor) RecordSessionCleaned(n int) {
	m.record("session_cleaned", func() {
		if n <= 0 {
			return
		}
		m.counters.SessionsCleaned += int64(n)
		m.counters.SessionsActive -= int64(n)
		if m.counters.SessionsActive < 0 {
			m.counters.SessionsActive = 0
		}
		m.prom.sessionsActive(m.counters.SessionsActive)
	})
}

// RecordWebhookReceived records an incoming webhook delivery.
func (m *Monitor) RecordWebhookReceived(topic string) {
	m.record("webhook_received", func() {
		m.counters.WebhooksReceived++
		m.prom.webhook(topic, "received")
	})
}

// RecordWebhookProcessed records a webhook handled successfully.
func (m *Monitor) RecordWebhookProcessed(topic string, d time.Duration) {
	m.record("webhook_processed", func() {
		m.counters.WebhooksProcessed++
		m.appendLocked(SeriesWebhookProcessing, millis(d), map[string]string{"topic": topic})
		m.prom.webhook(topic, "processed")
	})
}

// RecordWebhookFailed records a webhook that was rejected or failed to process.
func (m *Monitor) RecordWebhookFailed(topic, reason string) {
	m.record("webhook_failed", func() {
		m.counters.WebhooksFailed++
		m.appendLocked(SeriesWebhookFailures, 1, map[string]string{"topic": topic, "reason": reason})
		m.prom.webhook(topic, "failed")
	})
}

// AverageResponseTime returns the streaming mean upstream latency.
func (m *Monitor) AverageResponseTime() time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.counters.AvgResponseTimeMs * float64(time.Millisecond))
}

// Counters returns a copy of the aggregate counters.
func (m *Monitor) Counters() Counters {
	if m == nil {
		return Counters{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Series returns a copy of a named series, oldest first.
func (m *Monitor) Series(name string) []MetricEntry {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.series[name]
	if !ok {
		return nil
	}
	return r.entries()
}

// Reset zeroes all counters and clears every series. The uptime origin is kept.
func (m *Monitor) Reset() {
	m.record("reset", func() {
		m.counters = Counters{}
		m.series = make(map[string]*ring)
	})
}

// Start launches the periodic flush loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go m.flushLoop(ctx, done)
}

// Stop cancels the flush loop, performs a final flush and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) flushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Flush(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Metrics flush failed")
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Flush(flushCtx); err != nil {
				m.logger.Error().Err(err).Msg("Final metrics flush failed")
			}
			cancel()
			return
		}
	}
}

// Flush writes the current snapshot to every sink.
func (m *Monitor) Flush(ctx context.Context) error {
	snap := m.Snapshot()

	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Flush(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
