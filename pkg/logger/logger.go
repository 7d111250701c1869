// Package logger holds the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Log is the shared logger. Packages that do not receive an explicit
// *slog.Logger fall back to it. It is usable before Init is called.
var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init configures the shared logger. An empty level falls back to the
// FANSPHERE_LOG_LEVEL environment variable, then to "info".
func Init(level string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("FANSPHERE_LOG_LEVEL")))
	}

	var l slog.Level
	switch lvl {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
