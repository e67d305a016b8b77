// Package strlog provides structured logging for Strata using zerolog.
//
// Background workers (the TTL sweeper, the batched-flush ticker) must never
// escalate a transient failure into a crash: spec §9 requires they "log
// failures and continue", with persistent failure escalating to marking the
// database read-only rather than panicking. strlog gives every such worker
// a component-scoped logger so failures are attributable without forcing
// every package to take a logging dependency of its own.
package strlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger instance, configured by Init.
var Logger zerolog.Logger

// Level names a logging verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global logger. Safe to call more than once, e.g.
// after reading a Database's Config at Open.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
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

// Component names the subsystems that log independently.
type Component string

const (
	ComponentRecovery Component = "recovery"
	ComponentWAL      Component = "wal"
	ComponentStorage  Component = "storage"
	ComponentTxn      Component = "txn"
	ComponentGC       Component = "gc"
	ComponentEngine   Component = "engine"
)

// WithComponent returns a child logger tagging every line with component.
func WithComponent(c Component) zerolog.Logger {
	return Logger.With().Str("component", string(c)).Logger()
}

// WithRunID returns a child logger additionally tagged with a run ID.
func WithRunID(c Component, runID string) zerolog.Logger {
	return Logger.With().Str("component", string(c)).Str("run_id", runID).Logger()
}
