// Package notify holds the in-process run notifiers.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
)

var (
	_ ports.RunNotifier = (*LogNotifier)(nil)
	_ ports.RunNotifier = Fanout(nil)
)

// LogNotifier writes every state change to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) RunStateChanged(ctx context.Context, event domain.RunEvent) error {
	level := slog.LevelInfo
	if event.To == domain.StateError {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.String("document_id", event.DocumentID),
		slog.String("from", string(event.From)),
		slog.String("to", string(event.To)),
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	n.logger.LogAttrs(ctx, level, "run_state_changed", attrs...)
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []ports.RunNotifier

func (f Fanout) RunStateChanged(ctx context.Context, event domain.RunEvent) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.RunStateChanged(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
