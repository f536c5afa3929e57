// Package logging builds the slog logger shared by every component.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format names the handler used for output.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config selects level and output format.
type Config struct {
	Level  string
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// Logger is a slog.Logger whose level can be changed while running.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

func New(cfg Config) *Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}

	level := &slog.LevelVar{}
	level.Set(ParseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch Format(strings.ToLower(strings.TrimSpace(cfg.Format))) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With("app", "tapmic"),
		level:  level,
	}
}

// SetLevel applies a new level name; unknown names mean info.
func (l *Logger) SetLevel(name string) {
	l.level.Set(ParseLevel(name))
}

func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
