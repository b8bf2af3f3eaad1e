package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

func NewJSONLogger(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

// Setup returns the stdout JSON logger, fanned out to logFile when set.
// The cleanup function closes the file.
func Setup(service, level, logFile string) (*slog.Logger, func() error) {
	if strings.TrimSpace(logFile) == "" {
		return NewJSONLogger(service, level), func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := NewJSONLogger(service, level)
		logger.Error("log_file_open_failed", "file", logFile, "error", err)
		return logger, func() error { return nil }
	}
	return NewFanoutLogger(service, level, os.Stdout, file), file.Close
}

// NewFanoutLogger writes the same JSON records to every writer.
func NewFanoutLogger(service, level string, writers ...io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
	}
	return slog.New(slogmulti.Fanout(handlers...)).With("service", service)
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
