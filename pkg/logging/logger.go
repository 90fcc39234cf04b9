// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvLevel  = "LOG_LEVEL"
	EnvPretty = "LOG_PRETTY"
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

// ConfigFromEnv returns DefaultConfig overridden by LOG_LEVEL and LOG_PRETTY.
// Unparseable values keep the default.
func ConfigFromEnv(getenv func(string) string) Config {
	cfg := DefaultConfig()
	if getenv == nil {
		getenv = os.Getenv
	}

	if level := getenv(EnvLevel); level != "" {
		cfg.Level = LogLevel(strings.ToLower(level))
	}
	if pretty := getenv(EnvPretty); pretty != "" {
		if b, err := strconv.ParseBool(pretty); err == nil {
			cfg.Pretty = b
		}
	}
	return cfg
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
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

// WithRequestID attaches the request ID to the logger carried by ctx and
// returns the derived context. The proxy uses it per inbound request.
func WithRequestID(ctx context.Context, logger zerolog.Logger, requestID string) context.Context {
	l := logger.With().Str("request_id", requestID).Logger()
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or the component logger
// when there is none.
func FromContext(ctx context.Context, component string) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return NewLogger(component)
}

// Log Level Guidelines:
//
// Debug: request internals
//   - Cache lookups (hit/miss, key, TTL)
//   - State machine transitions
//   - Deduplicated calls
//
// Info: normal operation events
//   - Success after retry
//   - Bulk cancellation
//   - Server startup/shutdown
//   - Cache cleanup results
//
// Warn: conditions that don't prevent operation
//   - Retry attempts
//   - Cache backend errors (request continues uncached)
//   - Network errors, timeouts, validation errors
//
// Error: conditions requiring attention
//   - Retry attempts exhausted
//   - API and unexpected errors
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package
//   - key: request key (endpoint + method/params/data)
//   - attempt / attempts: attempt counter
//   - backoff: wait before the next attempt
//   - status_code: HTTP status code
//   - kind: error kind (network, api, timeout, cancelled, ...)
//   - error_id: unique error identifier
//   - cache_hit: Boolean indicating cache hit
//   - ttl: cache entry TTL
//   - request_id: inbound proxy request ID
