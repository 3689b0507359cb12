// Package metrics provides the Prometheus registry and /metrics handler for
// cachekit. Operation metrics are defined next to the code that records them
// (pkg/cache) to keep packages modular; this package adds a collector that
// samples per-cache stats at scrape time.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/Sternrassler/cachekit/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by cachekit.
// All operation metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Operation Metrics (pkg/cache):
//   - cache_hits_total{cache} (Counter): Reads that found a live value
//   - cache_misses_total{cache} (Counter): Reads of missing or expired keys
//   - cache_evictions_total{cache, reason} (Counter): Removed entries, reason "capacity" or "expired"
//   - cache_entries{cache} (Gauge): Entries held by memory caches
//   - cache_errors_total{cache, operation} (Counter): Failed operations
//   - cache_promotions_total{cache} (Counter): Two-tier promotions into the fast tier
//   - cache_fallback_degraded{cache} (Gauge): 1 while a fallback cache serves from its secondary
//   - cache_fallback_transitions_total{cache, state} (Counter): Health transitions, state "degraded" or "healthy"
//
// Snapshot Metrics (StatsCollector, sampled per scrape):
//   - cache_size{cache} (Gauge): Entries reported by Stats
//   - cache_capacity{cache} (Gauge): Configured capacity (0 = unbounded)
//   - cache_hit_ratio{cache} (Gauge): hits / (hits + misses)
//   - cache_stats_errors{cache} (Gauge): 1 when Stats failed for the cache
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum by (cache) (rate(cache_hits_total[5m])) /
//   (sum by (cache) (rate(cache_hits_total[5m])) + sum by (cache) (rate(cache_misses_total[5m])))
//
//   # Degraded fallback caches
//   cache_fallback_degraded == 1
//
//   # Capacity evictions
//   rate(cache_evictions_total{reason="capacity"}[5m])

// StatsSource provides per-cache stats snapshots.
type StatsSource interface {
	CacheStats(ctx context.Context) map[string]cache.StatsResult
}

// StatsCollector exports the Stats of every cache of a StatsSource.
type StatsCollector struct {
	source  StatsSource
	timeout time.Duration

	size     *prometheus.Desc
	capacity *prometheus.Desc
	hitRatio *prometheus.Desc
	failed   *prometheus.Desc
}

// NewStatsCollector creates a collector. timeout bounds each scrape's Stats calls.
func NewStatsCollector(source StatsSource, timeout time.Duration) *StatsCollector {
	labels := []string{"cache"}
	return &StatsCollector{
		source:   source,
		timeout:  timeout,
		size:     prometheus.NewDesc("cache_size", "Entries reported by the cache stats", labels, nil),
		capacity: prometheus.NewDesc("cache_capacity", "Configured cache capacity (0 = unbounded)", labels, nil),
		hitRatio: prometheus.NewDesc("cache_hit_ratio", "Cache hits / (hits + misses)", labels, nil),
		failed:   prometheus.NewDesc("cache_stats_errors", "Whether reading the cache stats failed", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.hitRatio
	ch <- c.failed
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for name, result := range c.source.CacheStats(ctx) {
		if result.Error != "" {
			ch <- prometheus.MustNewConstMetric(c.failed, prometheus.GaugeValue, 1, name)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.GaugeValue, 0, name)
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(result.Stats.Size), name)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(result.Stats.Capacity), name)
		ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, result.Stats.HitRate(), name)
	}
}
