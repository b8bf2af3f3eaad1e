package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFanoutLoggerWritesEveryWriter(t *testing.T) {
	var a, b bytes.Buffer
	logger := NewFanoutLogger("api", "warn", &a, &b)

	logger.Info("ignored")
	logger.Warn("stage_failed", "run_id", "r1")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		out := buf.String()
		if strings.Contains(out, "ignored") {
			t.Fatalf("info record passed a warn level: %s", out)
		}
		if !strings.Contains(out, `"msg":"stage_failed"`) || !strings.Contains(out, `"service":"api"`) {
			t.Fatalf("unexpected output %s", out)
		}
	}
}

func TestSetupAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	logger, cleanup := Setup("worker", "info", path)
	logger.Info("learning_session_completed", "samples", 3)
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "learning_session_completed") {
		t.Fatalf("log file content %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
