package utils

import (
	"log/slog"
	"os"
)

// NewLogger returns a JSON logger in production and a text logger otherwise,
// and installs it as the slog default.
func NewLogger(environment string) *slog.Logger {
	var handler slog.Handler
	if environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	logger := slog.New(handler).With("service", "queue-system")
	slog.SetDefault(logger)
	return logger
}
