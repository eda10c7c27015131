// Package logging provides structured logging for orderline components,
// built on log/slog. Default output is stderr text, following CLI
// conventions; the serve path switches to the same logger with a service
// attribute so importer and coordinator lines are attributable.
package logging

import (
	"io"
	"log/slog"
	"os"
)

type Config struct {
	Level   slog.Level
	Service string
	Output  io.Writer
}

// New builds a logger from config.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Default returns a stderr logger at info level.
func Default() *slog.Logger {
	return New(Config{Level: slog.LevelInfo})
}
