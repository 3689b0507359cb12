package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/cachekit/pkg/cache"
	"github.com/Sternrassler/cachekit/pkg/config"
	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/Sternrassler/cachekit/pkg/metrics"
	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, getEnv("CACHEKIT_CONFIG", "configs/cache.yaml")); err != nil {
		fmt.Fprintf(os.Stderr, "cache-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Setup(cfg.Logging.Logger())
	logger := logging.NewLogger("cache-server")

	svc := cache.NewService(nil)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close caches")
		}
	}()

	for _, cc := range cfg.Caches {
		if _, err := svc.GetCache(ctx, cc); err != nil {
			return fmt.Errorf("create cache %q: %w", cc.Name, err)
		}
	}

	if err := metrics.Registry.Register(metrics.NewStatsCollector(svc, 5*time.Second)); err != nil {
		return fmt.Errorf("register stats collector: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newHandler(svc, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Starting cache server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down cache server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newHandler(svc *cache.Service, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(svc))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /providers", providersHandler(svc, logger))
	mux.HandleFunc("GET /caches", listCachesHandler(svc, logger))
	mux.HandleFunc("GET /caches/{name}", cacheStatsHandler(svc, logger))
	mux.HandleFunc("POST /caches/clear", clearAllHandler(svc, logger))
	mux.HandleFunc("POST /caches/{name}/clear", clearCacheHandler(svc, logger))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler fails while any cache cannot report its stats.
func readyHandler(svc *cache.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for name, result := range svc.CacheStats(ctx) {
			if result.Error != "" {
				http.Error(w, fmt.Sprintf("cache %s not ready: %s", name, result.Error), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func providersHandler(svc *cache.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string][]string{"providers": svc.AvailableProviders()})
	}
}

func listCachesHandler(svc *cache.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, svc.CacheStats(r.Context()))
	}
}

func cacheStatsHandler(svc *cache.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := svc.Cache(r.PathValue("name"))
		if !ok {
			http.Error(w, "cache not found", http.StatusNotFound)
			return
		}
		stats, err := c.Stats(r.Context())
		if err != nil {
			writeJSON(w, logger, http.StatusBadGateway, cache.StatsResult{Error: err.Error()})
			return
		}
		writeJSON(w, logger, http.StatusOK, cache.StatsResult{Stats: stats})
	}
}

func clearCacheHandler(svc *cache.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		err := svc.ClearCache(r.Context(), name)
		switch {
		case err == nil:
			logger.Info().Str("cache", name).Msg("Cache cleared")
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, cache.ErrKey):
			http.Error(w, "cache not found", http.StatusNotFound)
		default:
			logger.Error().Err(err).Str("cache", name).Msg("Failed to clear cache")
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
	}
}

func clearAllHandler(svc *cache.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failed := svc.ClearAllCaches(r.Context())
		if failed > 0 {
			logger.Warn().Int("failed", failed).Msg("Some caches could not be cleared")
		}
		writeJSON(w, logger, http.StatusOK, map[string]int{"failed": failed})
	}
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
