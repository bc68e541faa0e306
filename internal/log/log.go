// Package log sets up the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Options selects the level and handler of a logger.
type Options struct {
	Level  string    // "debug", "info", "warn" or "error"
	JSON   bool      // JSON lines instead of logfmt text
	Output io.Writer // defaults to stdout
}

// ParseLevel maps a level name to a slog level. Anything unknown is info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger without touching the global one.
func New(o Options) *slog.Logger {
	out := o.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(o.Level)}
	if o.JSON {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// Init installs the global logger and makes it the slog default.
// Only the first call has an effect; every call returns the installed logger.
func Init(o Options) *slog.Logger {
	once.Do(func() {
		logger = New(o)
		slog.SetDefault(logger)
	})
	return logger
}
