package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks successful reads per cache instance
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses tracks reads of missing or expired keys
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of evicted cache entries",
		},
		[]string{"cache", "reason"}, // "capacity", "expired"
	)

	// CacheEntries tracks the current number of stored entries
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of entries in the cache",
		},
		[]string{"cache"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"cache", "operation"},
	)

	// CachePromotions tracks values copied from the slow into the fast tier
	CachePromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_promotions_total",
			Help: "Total number of two-tier promotions into the fast tier",
		},
		[]string{"cache"},
	)

	// FallbackDegraded is 1 while a fallback cache routes around its primary
	FallbackDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_fallback_degraded",
			Help: "Whether the fallback cache is serving from its secondary (1) or primary (0)",
		},
		[]string{"cache"},
	)

	// FallbackTransitions tracks health state changes of fallback caches
	FallbackTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_fallback_transitions_total",
			Help: "Total number of fallback state transitions",
		},
		[]string{"cache", "state"}, // "degraded", "healthy"
	)
)
