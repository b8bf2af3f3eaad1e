package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
)

const (
	maxConcurrentRetries = 3
	defaultStaleAfter    = 10 * time.Minute
)

// PipelineMetrics receives per-stage observations. The zero implementation discards them.
type PipelineMetrics interface {
	ObserveStage(stage domain.Stage, duration time.Duration, err error)
	ObserveCache(hit bool)
	ObserveEntry(confidence float64, autoValidatable bool)
	ObserveRunFinished(state domain.RunState, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveStage(domain.Stage, time.Duration, error)   {}
func (noopMetrics) ObserveCache(bool)                                 {}
func (noopMetrics) ObserveEntry(float64, bool)                        {}
func (noopMetrics) ObserveRunFinished(domain.RunState, time.Duration) {}

type PipelineDeps struct {
	Repo       ports.RunRepository
	Storage    ports.ObjectStorage
	Extractor  ports.Extractor
	Cache      ports.ExtractionCache
	Classifier ports.SemanticClassifier
	Taxes      ports.TaxConfigProvider
	Generator  *EntryGenerator
	Dispatcher ports.Dispatcher
	Notifier   ports.RunNotifier
	Poster     ports.LedgerPoster
	Learning   ports.LearningObserver
	Threshold  ports.ThresholdSource
	Metrics    PipelineMetrics
	Logger     *slog.Logger

	StageTimeout time.Duration
}

// Pipeline drives documents through extraction, classification, entry
// generation and validation. Each run is processed by a single goroutine.
type Pipeline struct {
	repo       ports.RunRepository
	storage    ports.ObjectStorage
	extractor  ports.Extractor
	cache      ports.ExtractionCache
	classifier ports.SemanticClassifier
	taxes      ports.TaxConfigProvider
	generator  *EntryGenerator
	dispatcher ports.Dispatcher
	notifier   ports.RunNotifier
	poster     ports.LedgerPoster
	learning   ports.LearningObserver
	threshold  ports.ThresholdSource
	metrics    PipelineMetrics
	logger     *slog.Logger

	stageTimeout time.Duration
	now          func() time.Time
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		repo:         deps.Repo,
		storage:      deps.Storage,
		extractor:    deps.Extractor,
		cache:        deps.Cache,
		classifier:   deps.Classifier,
		taxes:        deps.Taxes,
		generator:    deps.Generator,
		dispatcher:   deps.Dispatcher,
		notifier:     deps.Notifier,
		poster:       deps.Poster,
		learning:     deps.Learning,
		threshold:    deps.Threshold,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		stageTimeout: deps.StageTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.generator == nil {
		p.generator = NewEntryGenerator(2)
	}
	return p
}

func (p *Pipeline) Submit(ctx context.Context, req ports.SubmitRequest, opts domain.SubmitOptions) (*domain.PipelineRun, error) {
	if req.Body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("empty body"))
	}
	origin, ok := domain.ParseOrigin(string(req.Origin))
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit document", fmt.Errorf("unknown origin %q", req.Origin))
	}
	level, ok := domain.ParseConfidentiality(string(req.Confidentiality))
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit document", fmt.Errorf("unknown confidentiality %q", req.Confidentiality))
	}
	if req.Quality != nil && (req.Quality.Overall < 0 || req.Quality.Overall > 100) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit document", fmt.Errorf("quality %.1f out of [0,100]", req.Quality.Overall))
	}

	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		docID = uuid.NewString()
	}
	storageKey := fmt.Sprintf("%s_%s_%s", sanitizeFilename(docID), uuid.NewString()[:8], sanitizeFilename(req.Filename))
	now := p.now()

	counter := &countingReader{r: req.Body}
	if err := p.storage.Save(ctx, storageKey, counter); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := domain.Document{
		ID:              docID,
		StorageKey:      storageKey,
		Filename:        req.Filename,
		MimeType:        resolveMimeType(req.MimeType, req.Filename),
		Size:            counter.n,
		Origin:          origin,
		Confidentiality: level,
		SubmittedBy:     req.SubmittedBy,
		Quality:         req.Quality,
		UploadedAt:      now,
	}
	run := domain.NewPipelineRun(uuid.NewString(), doc, opts, now)
	if err := p.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create pipeline run: %w", err)
	}
	p.notify(ctx, run, "")

	if err := p.dispatcher.Dispatch(ctx, run.ID); err != nil {
		dispatchErr := fmt.Errorf("dispatch run: %w", err)
		if failErr := p.fail(context.WithoutCancel(ctx), run, domain.StageIntake, dispatchErr); failErr != nil {
			return nil, fmt.Errorf("%w; mark failed: %v", dispatchErr, failErr)
		}
		return nil, dispatchErr
	}
	return run.Clone(), nil
}

// Process runs the stages of a pending run. Redelivered runs that already
// reached review or a terminal state are ignored. A run left mid-stage by a
// crashed worker is failed once it has been idle longer than staleAfter.
func (p *Pipeline) Process(ctx context.Context, runID string) error {
	run, err := p.repo.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("fetch run by id: %w", err)
	}
	if run.State.Terminal() || run.State == domain.StateAwaitingValidation {
		p.logger.Info("run_already_processed", "run_id", run.ID, "state", run.State)
		return nil
	}
	if run.State != domain.StatePending {
		return p.recoverStalled(ctx, run)
	}

	err = p.processStages(ctx, run)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrCancelled):
		p.logger.Info("run_cancelled", "run_id", run.ID)
		return nil
	default:
		return err
	}
}

// recoverStalled fails a run stuck in a processing state. A recently updated
// run may still be owned by another worker and is left alone.
func (p *Pipeline) recoverStalled(ctx context.Context, run *domain.PipelineRun) error {
	idle := p.now().Sub(run.UpdatedAt)
	if idle < p.staleAfter() {
		return domain.WrapError(domain.ErrInvalidStateTransition, "process run",
			fmt.Errorf("run %s is %s and was updated %s ago", run.ID, run.State, idle.Round(time.Second)))
	}

	stage := domain.StageOf(run.State)
	cause := domain.WrapError(domain.ErrInterrupted, "process run",
		fmt.Errorf("run %s stalled in %s for %s", run.ID, run.State, idle.Round(time.Second)))
	p.logger.Warn("run_stalled", "run_id", run.ID, "state", run.State, "idle", idle)
	if err := p.fail(ctx, run, stage, cause); err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return nil
		}
		return fmt.Errorf("%w; mark failed: %v", cause, err)
	}
	return cause
}

func (p *Pipeline) staleAfter() time.Duration {
	if p.stageTimeout > 0 {
		return 2 * p.stageTimeout
	}
	return defaultStaleAfter
}

func (p *Pipeline) processStages(ctx context.Context, run *domain.PipelineRun) error {
	if err := p.advance(ctx, run, func(r *domain.PipelineRun) error {
		return r.TransitionTo(domain.StateExtracting, p.now())
	}); err != nil {
		return err
	}

	stages := []struct {
		stage domain.Stage
		fn    func(context.Context, *domain.PipelineRun) error
	}{
		{domain.StageExtraction, p.extract},
		{domain.StageAnalysis, p.analyze},
		{domain.StageGeneration, p.generate},
	}
	for _, s := range stages {
		if err := p.runStage(ctx, run, s.stage, s.fn); err != nil {
			return err
		}
	}

	if run.Options.AutoValidate && run.Entry.AutoValidatable {
		return p.autoValidate(ctx, run)
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, run *domain.PipelineRun, stage domain.Stage, fn func(context.Context, *domain.PipelineRun) error) error {
	stageCtx := ctx
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(stageCtx, run)
	p.metrics.ObserveStage(stage, time.Since(start), err)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrCancelled) {
		return err
	}

	p.logger.Error("stage_failed", "run_id", run.ID, "stage", stage, "kind", domain.KindOf(err), "error", err)
	if failErr := p.fail(context.WithoutCancel(ctx), run, stage, err); failErr != nil {
		if errors.Is(failErr, domain.ErrCancelled) {
			return failErr
		}
		return fmt.Errorf("%w; mark failed: %v", err, failErr)
	}
	return err
}

func (p *Pipeline) extract(ctx context.Context, run *domain.PipelineRun) error {
	fp := domain.FingerprintOf(run.Document)
	res, hit := p.cachedExtraction(ctx, fp)
	p.metrics.ObserveCache(hit)
	if !hit {
		var err error
		res, err = p.extractor.Extract(ctx, run.Document)
		if err != nil {
			if !domain.IsKind(err, domain.ErrExtraction) {
				err = domain.WrapError(domain.ErrExtraction, "extract document", err)
			}
			return err
		}
		if p.cache != nil {
			if err := p.cache.Put(ctx, fp, res); err != nil {
				p.logger.Warn("cache_put_failed", "run_id", run.ID, "error", err)
			}
		}
	}

	return p.advance(ctx, run, func(r *domain.PipelineRun) error {
		now := p.now()
		if err := r.RecordExtraction(res, hit, now); err != nil {
			return err
		}
		return r.TransitionTo(domain.StateAnalyzing, now)
	})
}

func (p *Pipeline) cachedExtraction(ctx context.Context, fp domain.Fingerprint) (domain.ExtractionResult, bool) {
	if p.cache == nil {
		return domain.ExtractionResult{}, false
	}
	res, ok, err := p.cache.Get(ctx, fp)
	if err != nil {
		p.logger.Warn("cache_get_failed", "fingerprint", fp, "error", err)
		return domain.ExtractionResult{}, false
	}
	return res, ok
}

func (p *Pipeline) analyze(ctx context.Context, run *domain.PipelineRun) error {
	analysis, err := p.classifier.Classify(ctx, *run.Extraction)
	if err != nil {
		return fmt.Errorf("classify document: %w", err)
	}
	return p.advance(ctx, run, func(r *domain.PipelineRun) error {
		now := p.now()
		if err := r.RecordAnalysis(analysis, now); err != nil {
			return err
		}
		return r.TransitionTo(domain.StateGenerating, now)
	})
}

func (p *Pipeline) generate(ctx context.Context, run *domain.PipelineRun) error {
	configs, err := p.taxes.TaxConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("load tax configurations: %w", err)
	}

	entry, err := p.generator.Generate(GenerationRequest{
		DocumentID: run.Document.ID,
		Analysis:   *run.Analysis,
		Extraction: *run.Extraction,
		Configs:    configs,
		Threshold:  p.currentThreshold(),
		Journal:    run.Options.Journal,
	})
	if err != nil {
		return fmt.Errorf("generate entry: %w", err)
	}
	p.metrics.ObserveEntry(entry.Confidence, entry.AutoValidatable)

	return p.advance(ctx, run, func(r *domain.PipelineRun) error {
		now := p.now()
		if err := r.RecordEntry(entry, now); err != nil {
			return err
		}
		return r.TransitionTo(domain.StateAwaitingValidation, now)
	})
}

func (p *Pipeline) autoValidate(ctx context.Context, run *domain.PipelineRun) error {
	outcome := domain.ValidationOutcome{
		ValidatorID:  "system",
		ValidatedAt:  p.now(),
		Decision:     domain.DecisionAccepted,
		QualityScore: run.Entry.Confidence,
		System:       true,
	}
	if err := p.advance(ctx, run, func(r *domain.PipelineRun) error {
		return r.RecordValidation(outcome, nil, outcome.ValidatedAt)
	}); err != nil {
		return err
	}
	p.postEntry(ctx, run)
	return nil
}

func (p *Pipeline) Validate(ctx context.Context, runID string, outcome domain.ValidationOutcome) (*domain.PipelineRun, error) {
	if err := outcome.Check(); err != nil {
		return nil, err
	}
	if outcome.ValidatedAt.IsZero() {
		outcome.ValidatedAt = p.now()
	}

	run, err := p.repo.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("fetch run by id: %w", err)
	}
	if run.State != domain.StateAwaitingValidation || run.Entry == nil {
		return nil, domain.WrapError(domain.ErrInvalidStateTransition, "validate run",
			fmt.Errorf("run %s is %s", run.ID, run.State))
	}

	var amended *domain.GeneratedEntry
	if outcome.Decision == domain.DecisionModified {
		entry, err := domain.ApplyModifications(*run.Entry, outcome.Modifications)
		if err != nil {
			return nil, err
		}
		if err := entry.CheckBalance(p.generator.precision); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "validate run", err)
		}
		amended = &entry
	}

	from := run.State
	if err := run.RecordValidation(outcome, amended, outcome.ValidatedAt); err != nil {
		return nil, err
	}
	if err := p.repo.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("save validated run: %w", err)
	}
	p.notify(ctx, run, from)
	p.metrics.ObserveRunFinished(run.State, run.Elapsed)

	if run.State == domain.StateValidated {
		p.postEntry(ctx, run)
	}
	if p.learning != nil && run.Extraction != nil && run.Analysis != nil {
		p.learning.Observe(domain.LearningSample{
			RunID:      run.ID,
			Extraction: run.Extraction.Clone(),
			Analysis:   *run.Analysis,
			Outcome:    outcome,
			Fused:      run.Entry.Confidence,
		})
	}
	return run.Clone(), nil
}

// Cancel stops a run at the next stage boundary and records it as cancelled.
func (p *Pipeline) Cancel(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	for attempt := 0; ; attempt++ {
		run, err := p.repo.Get(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("fetch run by id: %w", err)
		}
		from := run.State
		if err := run.Cancel(p.now()); err != nil {
			return nil, err
		}
		err = p.repo.Update(ctx, run)
		if err == nil {
			p.notify(ctx, run, from)
			p.metrics.ObserveRunFinished(run.State, run.Elapsed)
			return run.Clone(), nil
		}
		if !errors.Is(err, domain.ErrConcurrentUpdate) || attempt+1 >= maxConcurrentRetries {
			return nil, fmt.Errorf("save cancelled run: %w", err)
		}
	}
}

func (p *Pipeline) GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	run, err := p.repo.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("fetch run by id: %w", err)
	}
	return run, nil
}

func (p *Pipeline) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.PipelineRun, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	runs, err := p.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// advance applies mutate to run and persists it. A version conflict means
// another writer got there first; when that writer cancelled the run,
// processing stops with ErrCancelled.
func (p *Pipeline) advance(ctx context.Context, run *domain.PipelineRun, mutate func(*domain.PipelineRun) error) error {
	from := run.State
	next := run.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	if err := p.repo.Update(ctx, next); err != nil {
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			return fmt.Errorf("save run: %w", err)
		}
		latest, getErr := p.repo.Get(ctx, run.ID)
		if getErr != nil {
			return fmt.Errorf("reload run after conflict: %w", getErr)
		}
		*run = *latest
		if latest.State == domain.StateCancelled {
			return domain.WrapError(domain.ErrCancelled, "advance run", fmt.Errorf("run %s", run.ID))
		}
		return fmt.Errorf("save run: %w", err)
	}
	*run = *next
	p.notify(ctx, run, from)
	if run.State.Terminal() {
		p.metrics.ObserveRunFinished(run.State, run.Elapsed)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, run *domain.PipelineRun, stage domain.Stage, cause error) error {
	return p.advance(ctx, run, func(r *domain.PipelineRun) error {
		return r.Fail(stage, cause, p.now())
	})
}

func (p *Pipeline) postEntry(ctx context.Context, run *domain.PipelineRun) {
	if p.poster == nil || run.Entry == nil {
		return
	}
	if err := p.poster.PostEntry(ctx, run.ID, *run.Entry); err != nil {
		p.logger.Error("ledger_posting_failed", "run_id", run.ID, "entry_id", run.Entry.ID, "error", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, run *domain.PipelineRun, from domain.RunState) {
	if p.notifier == nil {
		return
	}
	event := domain.RunEvent{
		RunID:      run.ID,
		DocumentID: run.Document.ID,
		From:       from,
		To:         run.State,
		At:         run.UpdatedAt,
	}
	if run.State == domain.StateError && len(run.Errors) > 0 {
		event.Error = run.Errors[len(run.Errors)-1].Message
	}
	if err := p.notifier.RunStateChanged(ctx, event); err != nil {
		p.logger.Warn("run_notification_failed", "run_id", run.ID, "state", run.State, "error", err)
	}
}

func (p *Pipeline) currentThreshold() float64 {
	if p.threshold == nil {
		return 80
	}
	return p.threshold.Threshold()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}

func resolveMimeType(declared, filename string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if declared != "" && declared != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		mediaType, _, err := mime.ParseMediaType(byExt)
		if err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
