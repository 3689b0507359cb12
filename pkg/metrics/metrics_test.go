package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/cachekit/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type staticSource map[string]cache.StatsResult

func (s staticSource) CacheStats(context.Context) map[string]cache.StatsResult {
	return s
}

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestStatsCollector(t *testing.T) {
	source := staticSource{
		"sessions": {Stats: cache.Stats{Size: 3, Capacity: 10, Hits: 3, Misses: 1}},
		"broken":   {Error: "connection refused"},
	}
	collector := NewStatsCollector(source, time.Second)

	expected := `
# HELP cache_capacity Configured cache capacity (0 = unbounded)
# TYPE cache_capacity gauge
cache_capacity{cache="sessions"} 10
# HELP cache_hit_ratio Cache hits / (hits + misses)
# TYPE cache_hit_ratio gauge
cache_hit_ratio{cache="sessions"} 0.75
# HELP cache_size Entries reported by the cache stats
# TYPE cache_size gauge
cache_size{cache="sessions"} 3
# HELP cache_stats_errors Whether reading the cache stats failed
# TYPE cache_stats_errors gauge
cache_stats_errors{cache="broken"} 1
cache_stats_errors{cache="sessions"} 0
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestStatsCollector_WithService(t *testing.T) {
	svc := cache.NewService(nil)
	defer svc.Close()

	ctx := context.Background()
	c, err := svc.GetCache(ctx, cache.DefaultConfig("catalog"))
	if err != nil {
		t.Fatalf("GetCache() error = %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	collector := NewStatsCollector(svc, time.Second)
	if got := testutil.CollectAndCount(collector, "cache_size"); got != 1 {
		t.Errorf("cache_size series = %d, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	// touch a cache metric so the exposition is not empty
	cache.CacheHits.WithLabelValues("handler-test").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `cache_hits_total{cache="handler-test"} 1`) {
		t.Error("metrics output should contain cache_hits_total")
	}
}
