// Package logging configures the structured diagnostic logger.
// Operator-facing progress output is printed by the commands themselves;
// this logger carries machine-readable detail for CI log capture.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance
var Logger zerolog.Logger

// Config holds logging configuration
type Config struct {
	Verbose    bool
	JSONOutput bool // JSON output for CI runs, console writer otherwise
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithEnvironment creates a child logger with an environment field
func WithEnvironment(env string) zerolog.Logger {
	return Logger.With().Str("environment", env).Logger()
}

// WithRunID creates a child logger with a run_id field
func WithRunID(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}
