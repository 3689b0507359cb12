package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/cachekit/internal/testutil"
	"github.com/Sternrassler/cachekit/pkg/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

func setupService(t *testing.T) (*cache.Service, *testutil.FaultyCache) {
	t.Helper()

	registry := cache.NewDefaultRegistry()
	static := testutil.NewStaticProvider("static")
	flaky := testutil.NewFaultyMemory("flaky")
	static.Put("flaky", flaky)
	registry.Register(static)

	svc := cache.NewService(registry)
	t.Cleanup(func() { svc.Close() })

	ctx := context.Background()
	if _, err := svc.GetCache(ctx, cache.DefaultConfig("sessions")); err != nil {
		t.Fatalf("GetCache(sessions) error = %v", err)
	}
	if _, err := svc.GetCache(ctx, cache.Config{Name: "flaky", Provider: "static"}); err != nil {
		t.Fatalf("GetCache(flaky) error = %v", err)
	}
	return svc, flaky
}

func serve(t *testing.T, h http.Handler, method, path string) *http.Response {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w.Result()
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	svc, flaky := setupService(t)
	handler := newHandler(svc, zerolog.Nop())

	t.Run("ready", func(t *testing.T) {
		resp := serve(t, handler, "GET", "/ready")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("not_ready_cache_down", func(t *testing.T) {
		flaky.Fail(testutil.OpStats)
		defer flaky.Recover()

		resp := serve(t, handler, "GET", "/ready")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	svc, _ := setupService(t)
	handler := newHandler(svc, zerolog.Nop())

	ctx := context.Background()
	c, _ := svc.Cache("sessions")
	_ = c.Set(ctx, "k", []byte("v"), 0)
	_, _, _ = c.Get(ctx, "k")

	resp := serve(t, handler, "GET", "/metrics")
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	if !strings.Contains(bodyStr, `cache_hits_total{cache="sessions"}`) {
		t.Error("Expected metrics output to contain cache_hits_total for sessions")
	}
}

func TestCachesEndpoints(t *testing.T) {
	svc, flaky := setupService(t)
	handler := newHandler(svc, zerolog.Nop())
	ctx := context.Background()

	sessions, _ := svc.Cache("sessions")
	if err := sessions.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	t.Run("list", func(t *testing.T) {
		resp := serve(t, handler, "GET", "/caches")
		var got map[string]cache.StatsResult
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d caches, want 2", len(got))
		}
		if got["sessions"].Stats.Size != 1 {
			t.Errorf("sessions size = %d, want 1", got["sessions"].Stats.Size)
		}
	})

	t.Run("stats", func(t *testing.T) {
		resp := serve(t, handler, "GET", "/caches/sessions")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		var got cache.StatsResult
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Stats.Custom["provider"] != "memory" {
			t.Errorf("provider = %q, want memory", got.Stats.Custom["provider"])
		}

		if resp := serve(t, handler, "GET", "/caches/unknown"); resp.StatusCode != http.StatusNotFound {
			t.Errorf("unknown cache: expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("providers", func(t *testing.T) {
		resp := serve(t, handler, "GET", "/providers")
		body, _ := io.ReadAll(resp.Body)
		for _, name := range []string{"memory", "redis", "two_tier", "fallback", "static"} {
			if !strings.Contains(string(body), `"`+name+`"`) {
				t.Errorf("providers should list %s: %s", name, body)
			}
		}
	})

	t.Run("clear_one", func(t *testing.T) {
		resp := serve(t, handler, "POST", "/caches/sessions/clear")
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("Expected status 204, got %d", resp.StatusCode)
		}
		if ok, _ := sessions.Exists(ctx, "k"); ok {
			t.Error("sessions should be empty after clear")
		}

		if resp := serve(t, handler, "POST", "/caches/unknown/clear"); resp.StatusCode != http.StatusNotFound {
			t.Errorf("unknown cache: expected 404, got %d", resp.StatusCode)
		}

		flaky.Fail(testutil.OpClear)
		defer flaky.Recover()
		if resp := serve(t, handler, "POST", "/caches/flaky/clear"); resp.StatusCode != http.StatusBadGateway {
			t.Errorf("failing clear: expected 502, got %d", resp.StatusCode)
		}
	})

	t.Run("clear_all", func(t *testing.T) {
		flaky.Fail(testutil.OpClear)
		defer flaky.Recover()

		resp := serve(t, handler, "POST", "/caches/clear")
		var got map[string]int
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got["failed"] != 1 {
			t.Errorf("failed = %d, want 1", got["failed"])
		}
	})
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	w := httptest.NewRecorder()
	writeJSON(w, logger, http.StatusAccepted, map[string]int{"n": 1})
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if strings.TrimSpace(w.Body.String()) != `{"n":1}` {
		t.Errorf("body = %q", w.Body.String())
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %s", buf.String())
	}

	writeJSON(httptest.NewRecorder(), logger, http.StatusOK, make(chan int))
	if !strings.Contains(buf.String(), "Failed to write response") {
		t.Errorf("encode failure should be logged, got %q", buf.String())
	}
}

func TestRun(t *testing.T) {
	mr := miniredis.RunT(t)

	config := `
server:
  addr: "127.0.0.1:0"
  shutdown_timeout: 2s
logging:
  level: error
caches:
  - name: local
    provider: memory
    capacity: 10
  - name: shared
    provider: two_tier
    provider_config:
      slow.url: redis://` + mr.Addr() + `/0
      slow.connect_retries: 0
`
	path := filepath.Join(t.TempDir(), "cache.yaml")
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	if err := os.WriteFile(path, []byte("caches:\n  - name: a\n    provider: memcached\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := run(context.Background(), path); err == nil {
		t.Error("run() should fail for an unknown provider")
	}
}
