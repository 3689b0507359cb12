// Package config loads the cache server configuration from a YAML file and
// CACHEKIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/cachekit/pkg/cache"
	"github.com/Sternrassler/cachekit/pkg/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CACHEKIT_SERVER_ADDR.
const EnvPrefix = "CACHEKIT"

// keyDelimiter keeps dotted provider settings such as "primary.url" intact.
const keyDelimiter = "::"

// ServerConfig configures the HTTP admin server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Logger converts the settings into a logging.Config writing to stderr.
func (l LoggingConfig) Logger() logging.Config {
	cfg := logging.DefaultConfig()
	if l.Level != "" {
		cfg.Level = logging.LogLevel(l.Level)
	}
	cfg.Pretty = l.Pretty
	return cfg
}

// Config holds the complete server configuration.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Caches  []cache.Config `mapstructure:"caches"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server::addr", ":8080")
	v.SetDefault("server::read_timeout", 10*time.Second)
	v.SetDefault("server::write_timeout", 10*time.Second)
	v.SetDefault("server::shutdown_timeout", 15*time.Second)
	v.SetDefault("logging::level", "info")
	v.SetDefault("logging::pretty", false)
}

// Load reads the configuration file at path (optional when empty or
// missing) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for i := range cfg.Caches {
		for k, val := range cfg.Caches[i].ProviderConfig {
			cfg.Caches[i].ProviderConfig[k] = expandEnvVars(val)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the server settings and every cache configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}

	seen := make(map[string]bool, len(c.Caches))
	for i := range c.Caches {
		if err := c.Caches[i].Validate(); err != nil {
			return fmt.Errorf("caches[%d]: %w", i, err)
		}
		name := c.Caches[i].Name
		if seen[name] {
			return fmt.Errorf("caches[%d]: duplicate cache name %q", i, name)
		}
		seen[name] = true
	}
	return nil
}

// expandEnvVars expands ${VAR} and ${VAR:-default} references.
func expandEnvVars(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	return os.Expand(value, func(ref string) string {
		name, def, hasDefault := strings.Cut(ref, ":-")
		if val := os.Getenv(name); val != "" || !hasDefault {
			return val
		}
		return def
	})
}
