package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config captures the settings used to build the process slog.Logger.
type Config struct {
	// Level is the textual level (trace, debug, info, warn, error).
	Level string
	// Format is json or text.
	Format    string
	AddSource bool
}

// LevelTrace is the level Watermill's slog adapter uses for trace output.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel converts textual levels into slog levels, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "dbg":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// New builds a slog.Logger writing to w (stdout when nil).
func New(w io.Writer, cfg Config) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level), AddSource: cfg.AddSource}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	default:
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
}
