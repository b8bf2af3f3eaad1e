package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
)

const (
	competencyMin = 60.0
	competencyMax = 100.0

	recentSessionsKept = 50
)

// Starting competencies when no snapshot was persisted yet.
var defaultCompetencies = map[domain.CompetencyDomain]float64{
	domain.CompetencyOCRText:        95,
	domain.CompetencyOCRAmounts:     98,
	domain.CompetencyClassification: 90,
	domain.CompetencyEntries:        85,
}

type LearningConfig struct {
	Window           time.Duration
	BatchSize        int
	Streak           int
	StepUp           float64
	StepDown         float64
	ThresholdUp      float64
	ThresholdDown    float64
	InitialThreshold float64
	ThresholdMin     float64
	ThresholdMax     float64
	Buffer           int
}

func (c LearningConfig) withDefaults() LearningConfig {
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Streak <= 0 {
		c.Streak = 3
	}
	if c.StepUp <= 0 {
		c.StepUp = 1
	}
	if c.StepDown <= 0 {
		c.StepDown = 2
	}
	if c.ThresholdUp <= 0 {
		c.ThresholdUp = 1
	}
	if c.ThresholdDown <= 0 {
		c.ThresholdDown = 2
	}
	if c.ThresholdMin <= 0 {
		c.ThresholdMin = 60
	}
	if c.ThresholdMax <= 0 || c.ThresholdMax < c.ThresholdMin {
		c.ThresholdMax = 100
	}
	if c.InitialThreshold <= 0 {
		c.InitialThreshold = 80
	}
	c.InitialThreshold = clamp(c.InitialThreshold, c.ThresholdMin, c.ThresholdMax)
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return c
}

// LearningMetrics receives learning state updates.
type LearningMetrics interface {
	ObserveLearningSession(status domain.SessionStatus, snapshot domain.CompetencySnapshot)
}

// LearningLoop owns the competency state and the auto-validation threshold.
// Only applySession mutates them.
type LearningLoop struct {
	cfg     LearningConfig
	store   ports.LearningStore
	logger  *slog.Logger
	metrics LearningMetrics
	now     func() time.Time

	samples chan domain.LearningSample

	mu     sync.RWMutex
	state  domain.CompetencySnapshot
	recent []domain.LearningSession
}

func NewLearningLoop(cfg LearningConfig, store ports.LearningStore, logger *slog.Logger) *LearningLoop {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	competencies := make(map[domain.CompetencyDomain]float64, len(defaultCompetencies))
	for d, v := range defaultCompetencies {
		competencies[d] = v
	}
	return &LearningLoop{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		samples: make(chan domain.LearningSample, cfg.Buffer),
		state: domain.CompetencySnapshot{
			Competencies: competencies,
			Threshold:    cfg.InitialThreshold,
		},
	}
}

func (l *LearningLoop) SetMetrics(m LearningMetrics) {
	l.metrics = m
}

// Observe queues a sample without blocking. System outcomes are ignored.
func (l *LearningLoop) Observe(sample domain.LearningSample) {
	if sample.Outcome.System {
		return
	}
	select {
	case l.samples <- sample:
	default:
		l.logger.Warn("learning_sample_dropped", "run_id", sample.RunID, "buffer", cap(l.samples))
	}
}

func (l *LearningLoop) Threshold() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Threshold
}

func (l *LearningLoop) Snapshot() domain.CompetencySnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copySnapshot(l.state)
}

func (l *LearningLoop) Sessions(ctx context.Context, limit int) ([]domain.LearningSession, error) {
	if limit <= 0 {
		limit = 20
	}
	if l.store != nil {
		sessions, err := l.store.ListSessions(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("list learning sessions: %w", err)
		}
		return sessions, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.LearningSession, 0, min(limit, len(l.recent)))
	for i := len(l.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.recent[i])
	}
	return out, nil
}

// Restore loads the persisted snapshot, if any.
func (l *LearningLoop) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	snap, err := l.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load learning snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	restored := copySnapshot(*snap)
	for _, d := range domain.CompetencyDomains {
		v, ok := restored.Competencies[d]
		if !ok {
			v = defaultCompetencies[d]
		}
		restored.Competencies[d] = clamp(v, competencyMin, competencyMax)
	}
	restored.Threshold = clamp(restored.Threshold, l.cfg.ThresholdMin, l.cfg.ThresholdMax)

	l.mu.Lock()
	l.state = restored
	l.mu.Unlock()
	return nil
}

// Refresh reloads the snapshot every interval until ctx is done. Used by
// processes that generate entries but do not run sessions themselves.
func (l *LearningLoop) Refresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Restore(ctx); err != nil {
				l.logger.Warn("learning_refresh_failed", "error", err)
			}
		}
	}
}

// Run batches queued samples into sessions until ctx is done.
func (l *LearningLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()

	batch := make([]domain.LearningSample, 0, l.cfg.BatchSize)
	windowStart := l.now()
	flush := func(runCtx context.Context) {
		if len(batch) == 0 {
			windowStart = l.now()
			return
		}
		if _, err := l.ProcessBatch(runCtx, windowStart, batch); err != nil {
			l.logger.Error("learning_session_failed", "error", err, "samples", len(batch))
		}
		batch = make([]domain.LearningSample, 0, l.cfg.BatchSize)
		windowStart = l.now()
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for {
				select {
				case s := <-l.samples:
					batch = append(batch, s)
					continue
				default:
				}
				break
			}
			flush(drainCtx)
			cancel()
			return nil
		case s := <-l.samples:
			batch = append(batch, s)
			if len(batch) >= l.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// ProcessBatch runs one learning session over samples and applies its result.
// Persistence failures are returned after the in-memory state was updated.
func (l *LearningLoop) ProcessBatch(ctx context.Context, windowStart time.Time, samples []domain.LearningSample) (domain.LearningSession, error) {
	session := domain.LearningSession{
		ID:          uuid.NewString(),
		WindowStart: windowStart,
		Samples:     append([]domain.LearningSample(nil), samples...),
		SampleCount: len(samples),
		Status:      domain.SessionRunning,
	}

	snapshot := l.applySession(&session)

	var persistErr error
	if l.store != nil {
		if err := l.store.SaveSession(ctx, session); err != nil {
			persistErr = fmt.Errorf("save learning session: %w", err)
		} else if err := l.store.SaveSnapshot(ctx, snapshot); err != nil {
			persistErr = fmt.Errorf("save learning snapshot: %w", err)
		}
	}
	if l.metrics != nil {
		l.metrics.ObserveLearningSession(session.Status, snapshot)
	}

	l.logger.Info("learning_session_completed",
		"session_id", session.ID,
		"samples", session.SampleCount,
		"threshold_before", session.ThresholdBefore,
		"threshold_after", session.ThresholdAfter,
	)
	return session, persistErr
}

func (l *LearningLoop) applySession(session *domain.LearningSession) domain.CompetencySnapshot {
	net := make(map[domain.CompetencyDomain]int, len(domain.CompetencyDomains))
	for _, s := range session.Samples {
		for d, v := range signals(s.Outcome) {
			net[d] += v
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	session.ThresholdBefore = l.state.Threshold
	session.Deltas = make(map[domain.CompetencyDomain]float64, len(domain.CompetencyDomains))
	for _, d := range domain.CompetencyDomains {
		before := l.state.Competencies[d]
		after := before
		switch {
		case net[d] > 0:
			after = clamp(before+l.cfg.StepUp, competencyMin, competencyMax)
		case net[d] < 0:
			after = clamp(before-l.cfg.StepDown, competencyMin, competencyMax)
		}
		l.state.Competencies[d] = after
		session.Deltas[d] = after - before
	}

	for _, s := range session.Samples {
		if s.Outcome.Decision == domain.DecisionAccepted {
			l.state.AcceptStreak++
			l.state.CorrectionStreak = 0
			if l.state.AcceptStreak >= l.cfg.Streak {
				l.state.Threshold = clamp(l.state.Threshold+l.cfg.ThresholdUp, l.cfg.ThresholdMin, l.cfg.ThresholdMax)
				l.state.AcceptStreak = 0
			}
			continue
		}
		l.state.CorrectionStreak++
		l.state.AcceptStreak = 0
		if l.state.CorrectionStreak >= l.cfg.Streak {
			l.state.Threshold = clamp(l.state.Threshold-l.cfg.ThresholdDown, l.cfg.ThresholdMin, l.cfg.ThresholdMax)
			l.state.CorrectionStreak = 0
		}
	}

	now := l.now()
	l.state.SessionsCompleted++
	l.state.UpdatedAt = now
	session.ThresholdAfter = l.state.Threshold
	session.WindowEnd = now
	session.Status = domain.SessionCompleted

	summary := *session
	summary.Samples = nil
	l.recent = append(l.recent, summary)
	if len(l.recent) > recentSessionsKept {
		l.recent = l.recent[len(l.recent)-recentSessionsKept:]
	}
	return copySnapshot(l.state)
}

// signals scores each competency domain +1 when the outcome confirms it and -1 when it contradicts it.
func signals(outcome domain.ValidationOutcome) map[domain.CompetencyDomain]int {
	out := make(map[domain.CompetencyDomain]int, len(domain.CompetencyDomains))
	switch outcome.Decision {
	case domain.DecisionAccepted:
		for _, d := range domain.CompetencyDomains {
			out[d] = 1
		}
	case domain.DecisionModified:
		out[domain.CompetencyOCRText] = 1
		out[domain.CompetencyClassification] = 1
		out[domain.CompetencyEntries] = -1
		out[domain.CompetencyOCRAmounts] = 1
		if outcome.AmountsModified() {
			out[domain.CompetencyOCRAmounts] = -1
		}
	case domain.DecisionRejected:
		for _, d := range domain.CompetencyDomains {
			out[d] = -1
		}
	}
	return out
}

func copySnapshot(s domain.CompetencySnapshot) domain.CompetencySnapshot {
	out := s
	out.Competencies = make(map[domain.CompetencyDomain]float64, len(s.Competencies))
	for d, v := range s.Competencies {
		out.Competencies[d] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
