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

	httpadapter "github.com/kirillkom/ledger-autopilot/internal/adapters/http"
	"github.com/kirillkom/ledger-autopilot/internal/bootstrap"
	"github.com/kirillkom/ledger-autopilot/internal/config"
	"github.com/kirillkom/ledger-autopilot/internal/observability/logging"
	"github.com/kirillkom/ledger-autopilot/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger, closeLog := logging.Setup("api", cfg.LogLevel, cfg.LogFile)
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, "api", logger, httpMetrics.Registerer())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.Pipeline, app.Learning, app.Taxes,
		httpadapter.WithLogger(logger),
		httpadapter.WithMetrics(httpMetrics),
	).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Learning.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("api_listening", "port", cfg.APIPort, "dispatch", cfg.PipelineDispatch)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api_stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("api_stopped")
}
