// Package logging configures structured logging for the server.
//
// Usage:
//
//	logging.Setup("dev", "debug")   // colored tint output on stderr
//	logging.Setup("prod", "info")   // JSON lines on stdout
//
// An empty level falls back to the LOG_LEVEL environment variable
// (debug, info, warn, error; default info).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup installs the default slog logger for env at the given level.
func Setup(env, level string) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	slog.SetDefault(slog.New(NewHandler(env, ParseLevel(level), nil)))
}

// NewHandler returns a JSON handler for prod and a tint handler otherwise.
// A nil w writes to stdout for prod and stderr otherwise.
func NewHandler(env string, level slog.Level, w io.Writer) slog.Handler {
	if strings.EqualFold(env, "prod") {
		if w == nil {
			w = os.Stdout
		}
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	if w == nil {
		w = os.Stderr
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  true,
	})
}

// ParseLevel maps a level name to a slog level, defaulting to INFO.
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
