package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

type failingNotifier struct{ calls int }

func (f *failingNotifier) RunStateChanged(context.Context, domain.RunEvent) error {
	f.calls++
	return errors.New("broker down")
}

func TestLogNotifierWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := n.RunStateChanged(context.Background(), domain.RunEvent{
		RunID: "run-1", From: domain.StateExtracting, To: domain.StateError, Error: "no text",
	})
	if err != nil {
		t.Fatalf("RunStateChanged() error = %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["msg"] != "run_state_changed" || record["level"] != "WARN" || record["to"] != "error" || record["error"] != "no text" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	first := &failingNotifier{}
	second := &failingNotifier{}
	f := Fanout{first, nil, NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil))), second}

	err := f.RunStateChanged(context.Background(), domain.RunEvent{RunID: "run-1", To: domain.StateAnalyzing})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if first.calls != 1 || second.calls != 1 || buf.Len() == 0 {
		t.Fatalf("every notifier must be called: %d %d %d", first.calls, second.calls, buf.Len())
	}
}
