package cache

import (
	"context"
)

// Provider is a named factory of cache instances.
type Provider interface {
	// Name is the identifier matched against Config.Provider.
	Name() string

	// Supports reports whether the provider can build cfg.
	Supports(cfg Config) bool

	// Create builds a cache instance from cfg.
	Create(ctx context.Context, cfg Config) (Cache, error)

	// Capabilities describes provider features for diagnostics.
	Capabilities() map[string]string
}

// MemoryProvider builds MemoryCache instances.
type MemoryProvider struct {
	opts []MemoryOption
}

// NewMemoryProvider creates the in-process provider. opts are applied to every
// instance it creates.
func NewMemoryProvider(opts ...MemoryOption) *MemoryProvider {
	return &MemoryProvider{opts: opts}
}

// Name implements Provider.
func (p *MemoryProvider) Name() string { return "memory" }

// Supports accepts configs naming the memory provider or no provider at all.
func (p *MemoryProvider) Supports(cfg Config) bool {
	return cfg.Provider == "" || cfg.Provider == "memory"
}

// Create implements Provider.
func (p *MemoryProvider) Create(_ context.Context, cfg Config) (Cache, error) {
	c, err := NewMemoryCache(cfg, p.opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Capabilities implements Provider.
func (p *MemoryProvider) Capabilities() map[string]string {
	return map[string]string{
		"persistent":    "false",
		"distributed":   "false",
		"eviction":      "true",
		"ttl":           "true",
		"increment":     "true",
		"typed":         "true",
		"default_sweep": DefaultSweepInterval.String(),
	}
}
