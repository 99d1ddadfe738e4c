package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend ("memory", "redis").
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks cache misses, expired entries included.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"backend"},
	)

	// CacheEvictions tracks entries dropped by capacity or expiry.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_cache_evictions_total",
			Help: "Total number of response cache evictions",
		},
		[]string{"backend", "reason"}, // "capacity", "expired"
	)

	// CacheInvalidations tracks entries dropped by tag invalidation.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_cache_invalidated_entries_total",
			Help: "Total number of cache entries removed by tag invalidation",
		},
		[]string{"backend"},
	)

	// CacheEntries is the current number of entries held in memory.
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orders_cache_entries",
			Help: "Current number of response cache entries",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate"
	)
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
)
