// Package logger builds the process-wide slog.Logger from configuration.
package logger

import (
	"log/slog"
	"os"

	"github.com/HatiCode/estima/cmd/estimator/config"
)

// New creates a slog.Logger with the configured level and format.
// Unrecognized values fall back to info-level text logging.
func New(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
