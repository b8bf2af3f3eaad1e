package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/ledger-autopilot/internal/config"
	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
	"github.com/kirillkom/ledger-autopilot/internal/core/usecase"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/cache/lru"
	rediscache "github.com/kirillkom/ledger-autopilot/internal/infrastructure/cache/redis"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/classifier/keyword"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/extractor"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/extractor/ocr"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/notify"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/queue/nats"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/repository/memory"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/resilience"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/taxconfig"
	"github.com/kirillkom/ledger-autopilot/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Pipeline *usecase.Pipeline
	Learning *usecase.LearningLoop
	Taxes    *usecase.TaxService
	// Queue is set when runs are dispatched to workers over NATS.
	Queue ports.RunQueue

	closers []func()
}

// New wires the pipeline for one process. reg receives the pipeline metrics
// and may be nil.
func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	var (
		pipelineMetrics usecase.PipelineMetrics
		learningMetrics *metrics.PipelineMetrics
	)
	execOpts := []resilience.Option{resilience.WithLogger(logger)}
	if reg != nil {
		learningMetrics = metrics.NewPipelineMetrics(service, reg)
		pipelineMetrics = learningMetrics
		execOpts = append(execOpts, resilience.WithStateListener(learningMetrics.BreakerStateChanged))
	}
	ocrExec := resilience.NewExecutor(dependencyPolicy(resilience.OCRPolicy(), cfg.OCRResilience, cfg.ResilienceBreakerOn), execOpts...)
	publishExec := resilience.NewExecutor(dependencyPolicy(resilience.PublishPolicy(), cfg.PublishResilience, cfg.ResilienceBreakerOn), execOpts...)

	runs, learningStore, err := app.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	cache, err := app.openCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engineOpts := []extractor.Option{extractor.WithMaxBytes(cfg.UploadMaxBytes)}
	if cfg.OCREngineURL != "" {
		engineOpts = append(engineOpts, extractor.WithRecognizer(ocr.New(cfg.OCREngineURL, cfg.OCREngineTimeout, ocrExec)))
	} else {
		logger.Warn("ocr_engine_disabled", "reason", "OCR_ENGINE_URL is empty; images and scanned PDFs will fail extraction")
	}
	engine := extractor.NewEngine(storage, engineOpts...)

	vocab, err := loadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return nil, err
	}
	classifier := keyword.New(vocab, cfg.CurrencyPrecision)

	provider, err := taxconfig.Load(cfg.TaxConfigPath, cfg.TaxPreset)
	if err != nil {
		return nil, fmt.Errorf("load tax configuration: %w", err)
	}
	app.Taxes = usecase.NewTaxService(provider, cfg.CurrencyPrecision)

	learning := usecase.NewLearningLoop(usecase.LearningConfig{
		Window:           cfg.LearningWindow,
		BatchSize:        cfg.LearningBatchSize,
		Streak:           cfg.LearningStreak,
		InitialThreshold: cfg.AutoValidationThreshold,
		ThresholdMin:     cfg.ThresholdMin,
		ThresholdMax:     cfg.ThresholdMax,
	}, learningStore, logger)
	if learningMetrics != nil {
		learning.SetMetrics(learningMetrics)
	}
	if err := learning.Restore(ctx); err != nil {
		logger.Warn("learning_restore_failed", "error", err)
	}
	if learningMetrics != nil {
		learningMetrics.SetLearningState(learning.Snapshot())
	}
	app.Learning = learning

	notifiers := notify.Fanout{notify.NewLogNotifier(logger)}
	var poster ports.LedgerPoster
	var dispatcher ports.Dispatcher

	conn, err := app.connectNATS(cfg, logger)
	if err != nil {
		return nil, err
	}
	if conn != nil {
		notifiers = append(notifiers, nats.NewNotifier(conn, cfg.NATSEventsSubject, publishExec))
		poster = nats.NewPoster(conn, cfg.NATSPostingSubject, publishExec)
	}

	var inline *usecase.InlineDispatcher
	if cfg.PipelineDispatch == config.DispatchQueue {
		queue := nats.NewQueue(conn, cfg.NATSSubmitSubject, publishExec, logger)
		app.Queue = queue
		dispatcher = queue
	} else {
		inline = usecase.NewInlineDispatcher(ctx, cfg.PipelineWorkers, logger)
		dispatcher = inline
		app.closers = append(app.closers, inline.Wait)
	}

	app.Pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Repo:         runs,
		Storage:      storage,
		Extractor:    engine,
		Cache:        cache,
		Classifier:   classifier,
		Taxes:        provider,
		Generator:    usecase.NewEntryGenerator(cfg.CurrencyPrecision),
		Dispatcher:   dispatcher,
		Notifier:     notifiers,
		Poster:       poster,
		Learning:     learning,
		Threshold:    learning,
		Metrics:      pipelineMetrics,
		Logger:       logger,
		StageTimeout: cfg.PipelineStageTimeout,
	})
	if inline != nil {
		inline.Bind(app.Pipeline)
	}

	logger.Info("pipeline_ready",
		"dispatch", cfg.PipelineDispatch,
		"run_store", cfg.RunStore,
		"cache", cfg.CacheBackend,
		"tax_country", provider.Country(),
		"threshold", learning.Threshold(),
	)
	ok = true
	return app, nil
}

// dependencyPolicy overlays configured values on a dependency's defaults.
// RESILIENCE_BREAKER_ENABLED=false disables every breaker.
func dependencyPolicy(base resilience.Policy, rc config.Resilience, breakersOn bool) resilience.Policy {
	p := base
	if rc.Attempts > 0 {
		p.Retry.Attempts = rc.Attempts
	}
	if rc.Backoff > 0 {
		p.Retry.Initial = rc.Backoff
	}
	if rc.MaxBackoff > 0 {
		p.Retry.Max = rc.MaxBackoff
	}
	p.Breaker.Enabled = breakersOn && rc.BreakerOn
	if rc.BreakerMinReqs > 0 {
		p.Breaker.MinRequests = uint32(rc.BreakerMinReqs)
	}
	if rc.BreakerRatio > 0 && rc.BreakerRatio <= 1 {
		p.Breaker.FailureRatio = rc.BreakerRatio
	}
	if rc.BreakerOpenFor > 0 {
		p.Breaker.OpenFor = rc.BreakerOpenFor
	}
	return p
}

func checkConfig(cfg config.Config) error {
	switch cfg.PipelineDispatch {
	case config.DispatchInline, config.DispatchQueue:
	default:
		return domain.WrapError(domain.ErrConfiguration, "bootstrap", fmt.Errorf("unknown PIPELINE_DISPATCH %q", cfg.PipelineDispatch))
	}
	switch cfg.RunStore {
	case config.StoreMemory, config.StorePostgres:
	default:
		return domain.WrapError(domain.ErrConfiguration, "bootstrap", fmt.Errorf("unknown RUN_STORE %q", cfg.RunStore))
	}
	switch cfg.CacheBackend {
	case config.CacheLRU, config.CacheRedis:
	default:
		return domain.WrapError(domain.ErrConfiguration, "bootstrap", fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend))
	}
	if cfg.PipelineDispatch == config.DispatchQueue {
		if cfg.RunStore != config.StorePostgres {
			return domain.WrapError(domain.ErrConfiguration, "bootstrap", errors.New("queue dispatch needs RUN_STORE=postgres so workers share runs"))
		}
		if cfg.NATSURL == "" {
			return domain.WrapError(domain.ErrConfiguration, "bootstrap", errors.New("queue dispatch needs NATS_URL"))
		}
	}
	if cfg.ThresholdMin > cfg.ThresholdMax {
		return domain.WrapError(domain.ErrConfiguration, "bootstrap", fmt.Errorf("THRESHOLD_MIN %.1f above THRESHOLD_MAX %.1f", cfg.ThresholdMin, cfg.ThresholdMax))
	}
	return nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config) (ports.RunRepository, ports.LearningStore, error) {
	if cfg.RunStore == config.StoreMemory {
		return memory.NewRunRepository(), memory.NewLearningStore(), nil
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	if err := pingDB(ctx, db); err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return postgres.NewRunRepository(db), postgres.NewLearningRepository(db), nil
}

func pingDB(ctx context.Context, db *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return domain.WrapError(domain.ErrTemporary, "ping postgres", err)
	}
	return nil
}

func (a *App) openCache(ctx context.Context, cfg config.Config) (ports.ExtractionCache, error) {
	if cfg.CacheBackend == config.CacheLRU {
		return lru.New(cfg.CacheSize, cfg.CacheTTL), nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	a.closers = append(a.closers, func() { _ = client.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "ping redis", err)
	}
	return rediscache.New(client, cfg.CacheTTL), nil
}

// connectNATS returns nil when NATS_URL is empty and dispatch is inline.
func (a *App) connectNATS(cfg config.Config, logger *slog.Logger) (*natsgo.Conn, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	conn, err := nats.Connect(cfg.NATSURL, nats.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	})
	return conn, nil
}

func loadVocabulary(path string) (keyword.Vocabulary, error) {
	if path == "" {
		return keyword.DefaultVocabulary()
	}
	return keyword.LoadVocabulary(path)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
