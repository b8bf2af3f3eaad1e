package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/ledger-autopilot/internal/bootstrap"
	"github.com/kirillkom/ledger-autopilot/internal/config"
	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/observability/logging"
	"github.com/kirillkom/ledger-autopilot/internal/observability/metrics"
)

const service = "worker"

func main() {
	cfg := config.Load()
	logger, closeLog := logging.Setup(service, cfg.LogLevel, cfg.LogFile)
	defer func() { _ = closeLog() }()

	if cfg.PipelineDispatch != config.DispatchQueue {
		logger.Error("worker_not_needed", "dispatch", cfg.PipelineDispatch, "hint", "set PIPELINE_DISPATCH=queue")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(service)
	app, err := bootstrap.New(ctx, cfg, service, logger, workerMetrics.Registerer())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		app.Learning.Refresh(gctx, cfg.LearningRefresh)
		return nil
	})
	g.Go(func() error {
		logger.Info("worker_subscribed", "subject", cfg.NATSSubmitSubject, "metrics_port", cfg.WorkerMetricsPort)
		return app.Queue.Subscribe(gctx, func(handlerCtx context.Context, runID string) error {
			var submitted time.Time
			if run, err := app.Pipeline.GetRun(handlerCtx, runID); err == nil {
				submitted = run.CreatedAt
			}

			workerMetrics.StartDelivery(submitted)
			start := time.Now()
			err := app.Pipeline.Process(handlerCtx, runID)

			var state domain.RunState
			if run, getErr := app.Pipeline.GetRun(handlerCtx, runID); getErr == nil {
				state = run.State
			}
			workerMetrics.FinishDelivery(state, time.Since(start), err)
			return err
		})
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker_stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}
