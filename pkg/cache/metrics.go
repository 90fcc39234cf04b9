package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_cache_hits_total",
			Help: "Total number of request cache hits",
		},
		[]string{"layer"}, // "memory", "redis"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "incident_cache_misses_total",
			Help: "Total number of request cache misses",
		},
	)

	// CacheEntries tracks the number of stored entries by layer
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "incident_cache_entries",
			Help: "Current number of entries held by the request cache",
		},
		[]string{"layer"},
	)

	// CachePurged counts entries removed by PurgeExpired
	CachePurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "incident_cache_purged_total",
			Help: "Total number of expired entries removed by purge runs",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
