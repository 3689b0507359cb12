package cache

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// StatsResult is the stats snapshot of one named cache, or the error that
// prevented taking it.
type StatsResult struct {
	Stats Stats  `json:"stats"`
	Error string `json:"error,omitempty"`
}

// Service manages named cache instances. Each name is built once through
// the registry and reused afterwards.
type Service struct {
	registry *Registry
	logger   zerolog.Logger

	mu     sync.RWMutex
	caches map[string]Cache
	group  singleflight.Group
}

// NewService creates a service over registry. A nil registry gets the
// default providers.
func NewService(registry *Registry) *Service {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	return &Service{
		registry: registry,
		logger:   logging.NewLogger("cache.service"),
		caches:   make(map[string]Cache),
	}
}

// Registry returns the provider registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// RegisterProvider adds a provider to the registry.
func (s *Service) RegisterProvider(p Provider) {
	s.registry.Register(p)
}

// AvailableProviders returns the registered provider names.
func (s *Service) AvailableProviders() []string {
	return s.registry.ProviderNames()
}

// GetCache returns the cache named cfg.Name, creating it from cfg on first
// use. Later calls with the same name return the existing instance and
// ignore cfg. Concurrent first calls share a single construction.
func (s *Service) GetCache(ctx context.Context, cfg Config) (Cache, error) {
	if c, ok := s.Cache(cfg.Name); ok {
		return c, nil
	}

	v, err, _ := s.group.Do(cfg.Name, func() (any, error) {
		if c, ok := s.Cache(cfg.Name); ok {
			return c, nil
		}

		c, err := s.registry.CreateCache(ctx, cfg)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.caches[cfg.Name] = c
		s.mu.Unlock()

		s.logger.Info().
			Str("cache", cfg.Name).
			Str("provider", cfg.Provider).
			Msg("Cache created")
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Cache), nil
}

// Cache returns an already created cache.
func (s *Service) Cache(name string) (Cache, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.caches[name]
	return c, ok
}

// CacheNames returns the names of all created caches, sorted.
func (s *Service) CacheNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheStats returns a stats snapshot per cache. A failing cache reports its
// error instead of aborting the whole call.
func (s *Service) CacheStats(ctx context.Context) map[string]StatsResult {
	out := make(map[string]StatsResult)
	for name, c := range s.snapshot() {
		stats, err := c.Stats(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("cache", name).Msg("Failed to read cache stats")
			out[name] = StatsResult{Error: err.Error()}
			continue
		}
		out[name] = StatsResult{Stats: stats}
	}
	return out
}

// ClearCache clears the named cache.
func (s *Service) ClearCache(ctx context.Context, name string) error {
	c, ok := s.Cache(name)
	if !ok {
		return newError(KindKey, name, "clear cache", "cache %q not found", name)
	}
	return c.Clear(ctx)
}

// ClearAllCaches clears every cache. Failures are logged and skipped so one
// broken cache cannot block the rest; the number of failed caches is returned.
func (s *Service) ClearAllCaches(ctx context.Context) int {
	failed := 0
	for name, c := range s.snapshot() {
		if err := c.Clear(ctx); err != nil {
			failed++
			s.logger.Warn().Err(err).Str("cache", name).Msg("Failed to clear cache")
		}
	}
	return failed
}

// Close closes every cache and forgets them.
func (s *Service) Close() error {
	s.mu.Lock()
	caches := s.caches
	s.caches = make(map[string]Cache)
	s.mu.Unlock()

	var errs []error
	for _, c := range caches {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) snapshot() map[string]Cache {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Cache, len(s.caches))
	for name, c := range s.caches {
		out[name] = c
	}
	return out
}
