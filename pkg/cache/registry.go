package cache

import (
	"context"
	"sync"

	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/rs/zerolog"
)

// Registry holds providers by name and builds caches from configs.
// Safe for concurrent use; providers are normally registered before first use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logging.NewLogger("cache.registry"),
	}
}

// NewDefaultRegistry creates a registry with the memory, redis, two_tier and
// fallback providers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewMemoryProvider())
	r.Register(NewRedisProvider())
	r.Register(NewTwoTierProvider(r))
	r.Register(NewFallbackProvider(r))
	return r
}

// Register adds p, replacing a provider of the same name in place.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	r.logger.Debug().Str("provider", name).Msg("Registered cache provider")
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	return p, ok
}

// ProviderNames returns provider names in registration order.
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve finds the provider for cfg: the provider named by cfg.Provider if it
// supports cfg, otherwise the first registered provider that does.
func (r *Registry) Resolve(cfg Config) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.providers[cfg.Provider]; ok && p.Supports(cfg) {
		return p, nil
	}

	for _, name := range r.order {
		if p := r.providers[name]; p.Supports(cfg) {
			return p, nil
		}
	}

	return nil, newError(KindConfiguration, cfg.Name, "resolve provider",
		"no registered provider supports provider %q", cfg.Provider)
}

// CreateCache validates cfg and builds a cache with the resolved provider.
func (r *Registry) CreateCache(ctx context.Context, cfg Config) (Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := r.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	c, err := p.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("cache", cfg.Name).
		Str("provider", p.Name()).
		Msg("Created cache")
	return c, nil
}
