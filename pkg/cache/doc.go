// Package cache provides the response cache of the order API client.
//
// Entries are keyed by (resource, operation, parameters). The parameter set
// is order-normalized, so two logically identical queries always map to the
// same entry:
//
//	a := cache.NewKey("orders", "list", map[string]string{"status": "processing", "page": "1"})
//	b := cache.NewKey("orders", "list", map[string]string{"page": "1", "status": "processing"})
//	a.String() == b.String() // true
//
// # Backends
//
//   - MemoryStore: mutex-guarded map with LRU eviction at MaxEntries, lazy
//     expiry on read and a periodic sweep of expired entries.
//   - RedisStore: JSON entries with native TTLs and one Redis set per tag,
//     so several client processes share one cache.
//
// # Tags
//
// Every entry carries a set of tags. Invalidate(tag) drops all entries with
// that tag; writes use it to make stale list and detail reads unreachable:
//
//	store.Set(ctx, key, body, cache.DefaultTTL, "orders", "customer:42")
//	store.Invalidate(ctx, "orders")
//
// # Metrics
//
//   - orders_cache_hits_total{backend}
//   - orders_cache_misses_total{backend}
//   - orders_cache_evictions_total{backend, reason}
//   - orders_cache_invalidated_entries_total{backend}
//   - orders_cache_entries{backend}
//   - orders_cache_errors_total{operation}
package cache
