// Package log provides structured logging for neurobridge.
// It wraps slog with the defaults the command line uses: text output for
// a terminal, JSON when GO_ENV=production.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
	level  = new(slog.LevelVar)
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w. JSON output is used when GO_ENV is
// production.
func New(w io.Writer, lvl slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lvl}
	if os.Getenv("GO_ENV") == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init installs the global logger on stderr at the given level and makes
// it the slog default. Calling it again only changes the level.
func Init(lvl string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	level.Set(ParseLevel(lvl))
	if logger == nil {
		logger = New(os.Stderr, level)
		slog.SetDefault(logger)
	}
	return logger
}

// L returns the global logger instance.
func L() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		return Init("info")
	}
	return l
}

// For returns the global logger tagged with a component name.
func For(component string) *slog.Logger {
	return L().With("component", component)
}
