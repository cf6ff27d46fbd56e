package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func parseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// ComponentLevels overrides the level per component, so one noisy
	// subsystem can be turned up without flooding the rest: a debug "gc"
	// while "celldb" stays at info.
	ComponentLevels map[string]Level
}

var (
	mu        sync.RWMutex
	root      = zerolog.New(io.Discard)
	overrides map[string]zerolog.Level
)

// Init configures the process-wide root logger that Component derives from
func Init(cfg Config) {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var w io.Writer = output
	if !cfg.JSONOutput {
		w = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	mu.Lock()
	defer mu.Unlock()

	root = zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	overrides = make(map[string]zerolog.Level, len(cfg.ComponentLevels))
	for name, level := range cfg.ComponentLevels {
		overrides[strings.ToLower(name)] = parseLevel(level)
	}
}

// Logger is a subsystem logger. It embeds the underlying zerolog logger
// for the event API and adds the fields the storage core tags everywhere:
// block ids, cell hashes, shard idents and package paths.
type Logger struct {
	zerolog.Logger
}

// Component derives the logger for one storage subsystem, honoring any
// per-component level override from Init.
func Component(name string) Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := root.With().Str("component", name).Logger()
	if level, ok := overrides[strings.ToLower(name)]; ok {
		l = l.Level(level)
	}
	return Logger{l}
}

// With returns a logger with one extra string field attached
func (l Logger) With(key, value string) Logger {
	return Logger{l.Logger.With().Str(key, value).Logger()}
}

// Block attaches the block id a per-block operation logs under
func (l Logger) Block(id fmt.Stringer) Logger {
	return l.With("block", id.String())
}

// Cell attaches a cell hash
func (l Logger) Cell(id fmt.Stringer) Logger {
	return l.With("cell", id.String())
}

// Shard attaches a shard ident
func (l Logger) Shard(id fmt.Stringer) Logger {
	return l.With("shard", id.String())
}

// Package attaches a package file path
func (l Logger) Package(path string) Logger {
	return l.With("package", path)
}
