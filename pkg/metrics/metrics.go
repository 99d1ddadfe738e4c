// Package metrics provides centralized Prometheus metrics registry for the order API client.
// All metrics are defined in their respective packages (client, cache, ratelimit, monitor)
// to maintain modularity and avoid circular dependencies.
//
// This package exposes the registry, the scrape handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the order API client.
// Package-level metrics are registered via promauto; pass Registry as
// monitor.Config.Registerer to expose the monitor's counters next to them.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Order Limit Metrics (pkg/ratelimit):
//   - orders_ratelimit_allowed_total (Counter): Order creations allowed by the per-customer limit
//   - orders_ratelimit_blocked_total (Counter): Order creations blocked by the per-customer limit
//   - orders_ratelimit_near_limit_total (Counter): Creations allowed while the window was nearly used up
//
// Cache Metrics (pkg/cache):
//   - orders_cache_hits_total{backend} (Counter): Cache hits by backend (memory, redis)
//   - orders_cache_misses_total{backend} (Counter): Cache misses, expired entries included
//   - orders_cache_evictions_total{backend, reason} (Counter): Evictions by reason (capacity, expired)
//   - orders_cache_invalidated_entries_total{backend} (Counter): Entries removed by tag invalidation
//   - orders_cache_entries{backend} (Gauge): Current number of entries
//   - orders_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - orders_client_requests_total{resource, status} (Counter): Upstream attempts by resource and status
//   - orders_client_request_duration_seconds{resource} (Histogram): Attempt duration by resource
//   - orders_client_errors_total{error_class} (Counter): Failed attempts by class
//   - orders_client_shared_results_total (Counter): Misses answered by an identical in-flight request
//   - orders_client_invalidations_total{tag_kind} (Counter): Tag invalidations after writes
//
// Retry Metrics (pkg/client):
//   - orders_client_retries_total{error_class} (Counter): Retry attempts by error class
//   - orders_client_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - orders_client_exhausted_total{error_class} (Counter): Requests that exhausted their attempts
//
// Monitor Metrics (pkg/monitor, registered on the injected registerer):
//   - orders_monitor_api_calls_total{endpoint, success} (Counter)
//   - orders_monitor_api_call_duration_seconds{endpoint} (Histogram)
//   - orders_monitor_cache_lookups_total{resource, result} (Counter)
//   - orders_created_total, orders_failed_total{reason}, orders_limit_exceeded_total (Counter)
//   - orders_create_duration_seconds (Histogram)
//   - orders_sessions_active (Gauge)
//   - orders_webhooks_total{topic, outcome} (Counter)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(orders_cache_hits_total[5m])) /
//   (sum(rate(orders_cache_hits_total[5m])) + sum(rate(orders_cache_misses_total[5m])))
//
//   # Upstream Error Rate
//   rate(orders_client_errors_total[5m])
//
//   # P95 Attempt Latency
//   histogram_quantile(0.95, rate(orders_client_request_duration_seconds_bucket[5m]))
//
//   # Order Failure Ratio
//   rate(orders_failed_total[5m]) / (rate(orders_created_total[5m]) + rate(orders_failed_total[5m]))
