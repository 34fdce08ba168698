package logging

import (
	"io"
	"log/slog"
	"os"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// New builds the process logger for the given environment.
func New(env string) *slog.Logger {
	return slog.New(newHandler(env, os.Stdout))
}

func newHandler(env string, w io.Writer) slog.Handler {
	switch env {
	case envDev:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	case envProd:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	case envLocal:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
