package logger

import (
	"io"
	"log/slog"
	"os"
)

const service = "coffee-stock"

func New(env string) *slog.Logger {
	return NewTo(os.Stdout, env)
}

// NewTo — то же, что New, но в произвольный writer (тесты, файлы).
func NewTo(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service, "env", env)
}
