// Package logger configures the process-wide structured logger. Every
// component emits one JSON object per line through slog; "event" is the
// stable, documented field every other package relies on.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Init installs a JSON slog handler as the default logger. Level is read
// from LOG_LEVEL (debug, info, warn, error); unrecognized values fall back
// to info.
func Init(levelName string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(levelName),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(name string) slog.Level {
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

// Event logs a structured lifecycle event. name becomes the mandatory
// "event" field; args follow slog's alternating key/value convention.
func Event(name string, args ...any) {
	slog.Info(name, append([]any{"event", name}, args...)...)
}

// EventAt logs a structured event at a specific severity.
func EventAt(level slog.Level, name string, args ...any) {
	slog.Log(context.Background(), level, name, append([]any{"event", name}, args...)...)
}
