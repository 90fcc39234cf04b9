// Package cache provides the expiring key/value store behind the request coordinator.
//
// Features:
//
// - Per-entry TTL with lazy expiry on read
// - Explicit purge of expired entries, driven by a caller-owned Janitor
// - Metadata and stats introspection for diagnostics
// - Deterministic request keys shared by caching and deduplication
// - Optional Redis backend for sharing cached responses between processes
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewStore()
//	store.Set("incidents", incidents, 2*time.Minute)
//
//	if v, ok := store.Get("incidents"); ok {
//		// cache hit
//	}
//
// # Request Keys
//
//	key := cache.RequestKey("/incidents", http.MethodGet, url.Values{"status": {"open"}}, nil)
//	// /incidents:{"method":"GET","params":{"status":["open"]},"data":null}
//
// # Purging
//
//	janitor, err := cache.NewJanitor(store, 5*time.Minute, logger)
//	if err != nil {
//		return err
//	}
//	janitor.Start()
//	defer janitor.Stop()
//
// # Metrics
//
//   - incident_cache_hits_total{layer} - Cache hits
//   - incident_cache_misses_total - Cache misses
//   - incident_cache_entries{layer} - Stored entries
//   - incident_cache_purged_total - Entries removed by purge runs
//   - incident_cache_errors_total{operation} - Backend errors
package cache
