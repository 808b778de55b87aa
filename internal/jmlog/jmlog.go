/*
Package jmlog provides structured logging for the Jobmon core using
zerolog.

The package wraps zerolog to give every component (FSM engine,
Coordination API, Reaper, Distributor Loop) a component-scoped child
logger while sharing one process-wide sink, level, and format.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog instance                         │          │
	│  │  - Initialized once via jmlog.Init()        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Component Loggers                 │          │
	│  │  - WithComponent("fsm")                     │          │
	│  │  - WithWorkflowID/WithTaskID/WithTaskInstanceID│        │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘
*/
package jmlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, set by Init.
var Logger zerolog.Logger

// Level is a recognized logging severity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init's output.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Each long-running binary
// (jobmon-server, which also hosts the reaper, and jobmon-distributor)
// calls this exactly once at startup.
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

// WithComponent scopes a logger to a named component.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorkflowID scopes a logger to a workflow.
func WithWorkflowID(id int64) zerolog.Logger {
	return Logger.With().Int64("workflow_id", id).Logger()
}

// WithWorkflowRunID scopes a logger to a workflow-run.
func WithWorkflowRunID(id int64) zerolog.Logger {
	return Logger.With().Int64("workflow_run_id", id).Logger()
}

// WithTaskID scopes a logger to a task.
func WithTaskID(id int64) zerolog.Logger {
	return Logger.With().Int64("task_id", id).Logger()
}

// WithTaskInstanceID scopes a logger to a task-instance.
func WithTaskInstanceID(id int64) zerolog.Logger {
	return Logger.With().Int64("task_instance_id", id).Logger()
}

func init() {
	// Sane default so packages that log before main calls Init (e.g.
	// package-level var initializers) don't panic on a zero Logger.
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
