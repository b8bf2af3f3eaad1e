package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
)

// InlineDispatcher processes runs in-process, at most workers at a time.
// Dispatch returns immediately; the submitting caller never waits for the stages.
type InlineDispatcher struct {
	baseCtx   context.Context
	sem       *semaphore.Weighted
	logger    *slog.Logger
	wg        sync.WaitGroup
	mu        sync.RWMutex
	processor ports.RunProcessor
}

func NewInlineDispatcher(ctx context.Context, workers int, logger *slog.Logger) *InlineDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{
		baseCtx: ctx,
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  logger,
	}
}

// Bind sets the processor runs are handed to. It must be called before the first Dispatch.
func (d *InlineDispatcher) Bind(processor ports.RunProcessor) {
	d.mu.Lock()
	d.processor = processor
	d.mu.Unlock()
}

func (d *InlineDispatcher) Dispatch(_ context.Context, runID string) error {
	d.mu.RLock()
	processor := d.processor
	d.mu.RUnlock()
	if processor == nil {
		return errors.New("inline dispatcher has no processor")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.baseCtx, 1); err != nil {
			d.logger.Warn("dispatch_aborted", "run_id", runID, "error", err)
			return
		}
		defer d.sem.Release(1)

		if err := processor.Process(d.baseCtx, runID); err != nil {
			d.logger.Error("run_processing_failed", "run_id", runID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
