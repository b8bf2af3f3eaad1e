package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/resilience"
)

var _ ports.RunQueue = (*Queue)(nil)

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	Logger               *slog.Logger
}

// Connect opens the connection shared by the queue, notifier and poster.
func Connect(url string, options Options) (*nats.Conn, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("ledger-autopilot"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// publisher is the part of *nats.Conn the outbound adapters need.
type publisher interface {
	Publish(subject string, data []byte) error
}

type outbound struct {
	pub      publisher
	subject  string
	executor *resilience.Executor
}

func (o outbound) publish(ctx context.Context, operation string, data []byte) error {
	call := func(_ context.Context) error {
		if err := o.pub.Publish(o.subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", o.subject, err)
		}
		return nil
	}

	var err error
	if o.executor != nil {
		err = o.executor.Execute(ctx, operation, call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return publishFailure(operation, err)
	}
	return nil
}

// Queue hands run ids to the worker group subscribed on subject.
type Queue struct {
	conn *nats.Conn
	outbound
	logger *slog.Logger
}

func NewQueue(conn *nats.Conn, subject string, executor *resilience.Executor, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		conn:     conn,
		outbound: outbound{pub: conn, subject: subject, executor: executor},
		logger:   logger,
	}
}

func (q *Queue) Dispatch(ctx context.Context, runID string) error {
	return q.publish(ctx, "nats.dispatch", []byte(runID))
}

// Subscribe consumes run ids until ctx is done, then drains the subscription.
func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		runID := string(msg.Data)
		if err := handler(handlerCtx, runID); err != nil {
			q.logger.Error("worker_handler_failed", "run_id", runID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
