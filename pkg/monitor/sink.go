package monitor

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink receives periodic snapshots. Implementations must honor ctx.
type Sink interface {
	Flush(ctx context.Context, snap Snapshot) error
}

// LogSink writes each snapshot summary as one structured log line.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink writing to logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Flush implements Sink.
func (s *LogSink) Flush(_ context.Context, snap Snapshot) error {
	sum := snap.Summary
	event := s.logger.Info()
	if len(sum.Recommendations) > 0 {
		event = s.logger.Warn()
	}

	event.
		Dur("uptime", sum.Uptime).
		Int64("api_calls", sum.Counters.APICallsTotal).
		Float64("api_success_rate", sum.APISuccessRate).
		Float64("cache_hit_rate", sum.CacheHitRate).
		Float64("avg_response_ms", sum.AvgResponseTimeMs).
		Int64("orders_created", sum.Counters.OrdersCreated).
		Int64("orders_failed", sum.Counters.OrdersFailed).
		Int64("orders_limit_exceeded", sum.Counters.OrdersLimitExceeded).
		Float64("webhook_success_rate", sum.WebhookSuccessRate).
		Strs("recommendations", sum.Recommendations).
		Msg("Performance summary")

	return nil
}
