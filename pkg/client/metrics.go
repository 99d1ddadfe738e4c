package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_client_requests_total",
		Help: "Upstream attempts by resource and status",
	}, []string{"resource", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orders_client_request_duration_seconds",
		Help:    "Upstream attempt duration in seconds by resource",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 15},
	}, []string{"resource"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_client_errors_total",
		Help: "Failed upstream attempts by error class",
	}, []string{"error_class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_client_retries_total",
		Help: "Retries scheduled by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orders_client_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by error class",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10},
	}, []string{"error_class"})

	exhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_client_exhausted_total",
		Help: "Logical requests that failed after their last attempt, by error class",
	}, []string{"error_class"})

	sharedResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_client_shared_results_total",
		Help: "Cache misses answered by an identical in-flight request",
	})

	invalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_client_invalidations_total",
		Help: "Cache tag invalidations triggered by writes",
	}, []string{"tag_kind"})
)
