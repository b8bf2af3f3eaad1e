package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

// PipelineMetrics observes runs, the fingerprint cache, the learning state
// and the circuit breakers of outbound calls.
type PipelineMetrics struct {
	service string

	runsFinished     *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	stageFailures    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	entryConfidence  *prometheus.HistogramVec
	entriesTotal     *prometheus.CounterVec
	threshold        *prometheus.GaugeVec
	competency       *prometheus.GaugeVec
	learningSessions *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
}

func NewPipelineMetrics(service string, reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		service: service,
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal state.",
		}, []string{"service", "state"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Time from submission to terminal state.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 3600, 14400, 86400},
		}, []string{"service", "state"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Stage failures by error kind.",
		}, []string{"service", "stage", "kind"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Fingerprint cache lookups by result.",
		}, []string{"service", "result"}),
		entryConfidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "entries",
			Name:      "confidence",
			Help:      "Fused confidence of generated entries.",
			Buckets:   []float64{50, 60, 70, 75, 80, 85, 90, 95, 100},
		}, []string{"service"}),
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "entries",
			Name:      "generated_total",
			Help:      "Generated entries by auto-validation eligibility.",
		}, []string{"service", "auto_validatable"}),
		threshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "learning",
			Name:      "auto_validation_threshold",
			Help:      "Current auto-validation threshold.",
		}, []string{"service"}),
		competency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "learning",
			Name:      "competency",
			Help:      "Competency level per domain.",
		}, []string{"service", "domain"}),
		learningSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "learning",
			Name:      "sessions_total",
			Help:      "Learning sessions by status.",
		}, []string{"service", "status"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "resilience",
			Name:      "circuit_breaker_open",
			Help:      "1 when the breaker of an operation is not closed.",
		}, []string{"service", "operation"}),
	}

	reg.MustRegister(
		m.runsFinished,
		m.runDuration,
		m.stageDuration,
		m.stageFailures,
		m.cacheLookups,
		m.entryConfidence,
		m.entriesTotal,
		m.threshold,
		m.competency,
		m.learningSessions,
		m.breakerState,
	)
	return m
}

func (m *PipelineMetrics) ObserveStage(stage domain.Stage, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(m.service, string(stage)).Observe(duration.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(m.service, string(stage), domain.KindOf(err)).Inc()
	}
}

func (m *PipelineMetrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(m.service, result).Inc()
}

func (m *PipelineMetrics) ObserveEntry(confidence float64, autoValidatable bool) {
	m.entryConfidence.WithLabelValues(m.service).Observe(confidence)
	label := "false"
	if autoValidatable {
		label = "true"
	}
	m.entriesTotal.WithLabelValues(m.service, label).Inc()
}

func (m *PipelineMetrics) ObserveRunFinished(state domain.RunState, elapsed time.Duration) {
	m.runsFinished.WithLabelValues(m.service, string(state)).Inc()
	m.runDuration.WithLabelValues(m.service, string(state)).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) ObserveLearningSession(status domain.SessionStatus, snapshot domain.CompetencySnapshot) {
	m.learningSessions.WithLabelValues(m.service, string(status)).Inc()
	m.SetLearningState(snapshot)
}

// SetLearningState publishes a snapshot, e.g. right after it was restored.
func (m *PipelineMetrics) SetLearningState(snapshot domain.CompetencySnapshot) {
	m.threshold.WithLabelValues(m.service).Set(snapshot.Threshold)
	for d, v := range snapshot.Competencies {
		m.competency.WithLabelValues(m.service, string(d)).Set(v)
	}
}

// BreakerStateChanged matches resilience.StateListener.
func (m *PipelineMetrics) BreakerStateChanged(operation, _, to string) {
	v := 1.0
	if to == "closed" {
		v = 0
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(v)
}
