package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds the JSON logger and installs it as the process default so
// package-level slog calls inside the pipeline carry the service attrs.
func Setup(service, version, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler).With(
		"service", service,
		"pipeline_version", version,
	)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
