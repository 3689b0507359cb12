package cache

import (
	"strconv"
	"strings"
	"time"
)

// EvictionPolicy selects the victim when a capacity-bounded cache is full.
type EvictionPolicy string

const (
	// PolicyLRU evicts the entry with the oldest last access.
	PolicyLRU EvictionPolicy = "lru"

	// PolicyLFU evicts the entry with the fewest hits.
	PolicyLFU EvictionPolicy = "lfu"

	// PolicyFIFO evicts the oldest entry by creation.
	PolicyFIFO EvictionPolicy = "fifo"

	// PolicyTTL evicts the entry closest to expiry, or the LRU entry when
	// no entry carries a TTL.
	PolicyTTL EvictionPolicy = "ttl"

	// PolicyRandom evicts an arbitrary entry.
	PolicyRandom EvictionPolicy = "random"

	// PolicyNone never evicts; writes to a full cache fail.
	PolicyNone EvictionPolicy = "none"
)

// ParseEvictionPolicy parses a policy name case-insensitively.
// An empty string yields PolicyLRU.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch p := EvictionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLRU, nil
	case PolicyLRU, PolicyLFU, PolicyFIFO, PolicyTTL, PolicyRandom, PolicyNone:
		return p, nil
	default:
		return "", newError(KindConfiguration, "", "parse eviction policy", "unknown policy %q", s)
	}
}

// Config identifies and configures one cache instance.
type Config struct {
	// Name is the unique lookup key of the instance.
	Name string `mapstructure:"name" json:"name"`

	// Provider names the provider that builds the instance.
	Provider string `mapstructure:"provider" json:"provider"`

	// Capacity is the maximum number of entries (0 = unbounded).
	Capacity int `mapstructure:"capacity" json:"capacity,omitempty"`

	// DefaultTTL applies when a write does not carry its own TTL (0 = never expire).
	DefaultTTL time.Duration `mapstructure:"default_ttl" json:"default_ttl,omitempty"`

	// EvictionPolicy governs the instance for its whole lifetime.
	EvictionPolicy EvictionPolicy `mapstructure:"eviction_policy" json:"eviction_policy"`

	// ProviderConfig holds provider-specific settings.
	ProviderConfig map[string]string `mapstructure:"provider_config" json:"provider_config,omitempty"`
}

// DefaultConfig returns an in-memory LRU configuration with room for 1000
// entries and a one hour TTL.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		Provider:       "memory",
		Capacity:       1000,
		DefaultTTL:     time.Hour,
		EvictionPolicy: PolicyLRU,
		ProviderConfig: map[string]string{},
	}
}

// Validate checks the configuration and normalizes the eviction policy.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return newError(KindConfiguration, "", "validate config", "name is required")
	}
	if c.Capacity < 0 {
		return newError(KindConfiguration, c.Name, "validate config", "capacity must be >= 0 (got %d)", c.Capacity)
	}
	if c.DefaultTTL < 0 {
		return newError(KindConfiguration, c.Name, "validate config", "default_ttl must be >= 0 (got %s)", c.DefaultTTL)
	}
	policy, err := ParseEvictionPolicy(string(c.EvictionPolicy))
	if err != nil {
		return err
	}
	c.EvictionPolicy = policy
	return nil
}

// Setting returns the provider setting for key, or def when unset.
func (c Config) Setting(key, def string) string {
	if v, ok := c.ProviderConfig[key]; ok && v != "" {
		return v
	}
	return def
}

// DurationSetting parses a provider setting as a time.Duration.
func (c Config) DurationSetting(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.ProviderConfig[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, wrapError(KindConfiguration, c.Name, "parse "+key, err)
	}
	return d, nil
}

// IntSetting parses a provider setting as an int.
func (c Config) IntSetting(key string, def int) (int, error) {
	v, ok := c.ProviderConfig[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, wrapError(KindConfiguration, c.Name, "parse "+key, err)
	}
	return n, nil
}

// RoleConfig derives the configuration of a nested cache used by a
// combinator. The nested provider is ProviderConfig[role] (or def);
// settings prefixed with "role." are moved into the nested config, where
// capacity, default_ttl and eviction_policy override the inherited fields.
func (c Config) RoleConfig(role, def string) (Config, error) {
	sub := Config{
		Name:           c.Name + ":" + role,
		Provider:       c.Setting(role, def),
		Capacity:       c.Capacity,
		DefaultTTL:     c.DefaultTTL,
		EvictionPolicy: c.EvictionPolicy,
		ProviderConfig: map[string]string{},
	}

	prefix := role + "."
	for k, v := range c.ProviderConfig {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		key := strings.TrimPrefix(k, prefix)
		switch key {
		case "capacity":
			n, err := strconv.Atoi(v)
			if err != nil {
				return Config{}, wrapError(KindConfiguration, c.Name, "parse "+k, err)
			}
			sub.Capacity = n
		case "default_ttl":
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, wrapError(KindConfiguration, c.Name, "parse "+k, err)
			}
			sub.DefaultTTL = d
		case "eviction_policy":
			p, err := ParseEvictionPolicy(v)
			if err != nil {
				return Config{}, err
			}
			sub.EvictionPolicy = p
		default:
			sub.ProviderConfig[key] = v
		}
	}
	return sub, nil
}

func (c Config) clone() Config {
	out := c
	out.ProviderConfig = make(map[string]string, len(c.ProviderConfig))
	for k, v := range c.ProviderConfig {
		out.ProviderConfig[k] = v
	}
	return out
}
