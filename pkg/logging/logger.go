// Package logging provides structured logging configuration using zerolog
// and helpers for rate-limited log output.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ConfigFromEnv returns DefaultConfig overridden by LOG_LEVEL and LOG_PRETTY.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(level)
	}
	if pretty := os.Getenv("LOG_PRETTY"); pretty == "1" || strings.EqualFold(pretty, "true") {
		cfg.Pretty = true
	}
	return cfg
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, tier)
//   - Promotions from the slow into the fast tier
//   - Expiry sweep results
//   - Individual reconnection probe failures
//
// Info: Normal operation events
//   - Cache instance creation
//   - Fallback recovery (primary reinstated)
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - One tier of a two-tier cache failing
//   - Undecodable cached values (treated as misses)
//   - Fallback still degraded (at most once per quiet window)
//   - A cache skipped by a best-effort batch operation
//
// Error: Error conditions requiring attention
//   - Fallback switching to its secondary
//   - Both tiers of a two-tier cache failing
//   - Configuration errors
//
// Context Fields:
//   - cache: cache instance name
//   - key: cache key
//   - tier: "fast"/"slow" or "primary"/"secondary"
//   - provider: provider name
//   - ttl: entry TTL
//   - suppressed: number of log events skipped by a Throttle
