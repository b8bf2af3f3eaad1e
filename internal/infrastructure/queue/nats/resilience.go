package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/resilience"
)

// Errors a broker outage produces. Publishing is retried and counts against
// the publish breaker.
var brokerDown = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
	nats.ErrStaleConnection,
	nats.ErrReconnectBufExceeded,
}

// Errors caused by the message or the deployment rather than broker health.
// They are neither retried nor recorded, and map to a domain kind.
var rejected = []struct {
	err  error
	kind error
}{
	{nats.ErrBadSubject, domain.ErrConfiguration},
	{nats.ErrAuthorization, domain.ErrConfiguration},
	{nats.ErrAuthExpired, domain.ErrConfiguration},
	{nats.ErrMaxPayload, domain.ErrInvalidInput},
	{nats.ErrInvalidMsg, domain.ErrInvalidInput},
}

func classifyPublishError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	for _, target := range brokerDown {
		if errors.Is(err, target) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	if rejectedKind(err) != nil {
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func rejectedKind(err error) error {
	for _, r := range rejected {
		if errors.Is(err, r.err) {
			return r.kind
		}
	}
	return nil
}

// publishFailure tags a publish error with its domain kind: broker outages
// and open circuits become ErrTemporary so callers can retry the run later.
func publishFailure(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if kind := rejectedKind(err); kind != nil {
		return domain.WrapError(kind, operation, err)
	}
	if classifyPublishError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
