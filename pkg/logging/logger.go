// Package logging configures zerolog for the aggregator and its components.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

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

// Component names used across the module.
const (
	ComponentClient     = "lms-client"
	ComponentPagination = "pagination"
	ComponentFanout     = "fanout"
	ComponentResources  = "lms-resources"
	ComponentAggregator = "aggregator"
	ComponentHTTP       = "http"
	ComponentRateLimit  = "upstream-quota"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures and returns the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.DurationFieldUnit = time.Millisecond

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

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

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-page pagination steps, query paths, link parsing decisions.
// Info: aggregation start/finish with durations, server lifecycle.
// Warn: a section or course sub-fetch degraded to empty, upstream quota low.
// Error: fatal aggregation failures, configuration errors.
//
// Context Fields:
//   - request_id: inbound request / report identifier
//   - path: upstream relative path
//   - status: HTTP status code
//   - section: aggregation section name
//   - course_id: course being fanned out
//   - pages: pages fetched for one resource
//   - duration: elapsed time (milliseconds)
