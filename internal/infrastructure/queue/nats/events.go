package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/resilience"
)

var (
	_ ports.RunNotifier  = (*Notifier)(nil)
	_ ports.LedgerPoster = (*Poster)(nil)
)

// Notifier publishes every run state change as JSON.
type Notifier struct {
	outbound
}

func NewNotifier(pub publisher, subject string, executor *resilience.Executor) *Notifier {
	return &Notifier{outbound: outbound{pub: pub, subject: subject, executor: executor}}
}

func (n *Notifier) RunStateChanged(ctx context.Context, event domain.RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	return n.publish(ctx, "nats.run_event", data)
}

// PostedEntry is the message the general ledger consumes.
type PostedEntry struct {
	RunID    string                `json:"run_id"`
	PostedAt time.Time             `json:"posted_at"`
	Entry    domain.GeneratedEntry `json:"entry"`
}

// Poster hands validated entries to the general ledger subject.
type Poster struct {
	outbound
	now func() time.Time
}

func NewPoster(pub publisher, subject string, executor *resilience.Executor) *Poster {
	return &Poster{
		outbound: outbound{pub: pub, subject: subject, executor: executor},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Poster) PostEntry(ctx context.Context, runID string, entry domain.GeneratedEntry) error {
	data, err := json.Marshal(PostedEntry{RunID: runID, PostedAt: p.now(), Entry: entry})
	if err != nil {
		return fmt.Errorf("encode posted entry: %w", err)
	}
	return p.publish(ctx, "nats.post_entry", data)
}
