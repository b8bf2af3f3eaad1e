package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

// Delivery outcomes of one queued run id.
const (
	OutcomeProcessed   = "processed"
	OutcomeBusy        = "busy"
	OutcomeInterrupted = "interrupted"
	OutcomeTemporary   = "temporary"
	OutcomeFailed      = "failed"
)

// WorkerMetrics observes queue deliveries on a worker. It owns its registry,
// which the pipeline metrics of the same process are registered on too.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	deliveries     *prometheus.CounterVec
	deliveryTime   *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	queueLag       prometheus.Histogram
	stalledClaimed prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	deliveries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "worker",
			Name:        "deliveries_total",
			Help:        "Queued run deliveries by outcome and the run state they left behind.",
			ConstLabels: constLabels,
		},
		[]string{"outcome", "state"},
	)
	deliveryTime := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   Namespace,
			Subsystem:   "worker",
			Name:        "delivery_duration_seconds",
			Help:        "Time spent processing one delivery, by resulting run state.",
			Buckets:     []float64{0.05, 0.25, 1, 2.5, 5, 15, 30, 60, 120, 300},
			ConstLabels: constLabels,
		},
		[]string{"state"},
	)
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   Namespace,
		Subsystem:   "worker",
		Name:        "deliveries_in_flight",
		Help:        "Deliveries currently being processed.",
		ConstLabels: constLabels,
	})
	queueLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   Namespace,
		Subsystem:   "worker",
		Name:        "queue_lag_seconds",
		Help:        "Delay between document submission and the worker picking up the run.",
		Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600, 1800},
		ConstLabels: constLabels,
	})
	stalledClaimed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   "worker",
		Name:        "stalled_runs_failed_total",
		Help:        "Runs found stuck mid-stage and moved to the error state.",
		ConstLabels: constLabels,
	})

	registry.MustRegister(deliveries, deliveryTime, inFlight, queueLag, stalledClaimed)

	return &WorkerMetrics{
		service:        service,
		registry:       registry,
		deliveries:     deliveries,
		deliveryTime:   deliveryTime,
		inFlight:       inFlight,
		queueLag:       queueLag,
		stalledClaimed: stalledClaimed,
	}
}

func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartDelivery records the pickup of a run submitted at submittedAt.
// A zero submittedAt skips the lag observation.
func (m *WorkerMetrics) StartDelivery(submittedAt time.Time) {
	m.inFlight.Inc()
	if submittedAt.IsZero() {
		return
	}
	if lag := time.Since(submittedAt); lag >= 0 {
		m.queueLag.Observe(lag.Seconds())
	}
}

// FinishDelivery records how the delivery ended. state is the run state read
// back after processing; empty when the run could not be loaded.
func (m *WorkerMetrics) FinishDelivery(state domain.RunState, duration time.Duration, err error) {
	m.inFlight.Dec()

	label := string(state)
	if label == "" {
		label = "unknown"
	}
	outcome := DeliveryOutcome(err)
	if outcome == OutcomeInterrupted {
		m.stalledClaimed.Inc()
	}
	m.deliveries.WithLabelValues(outcome, label).Inc()
	m.deliveryTime.WithLabelValues(label).Observe(duration.Seconds())
}

// DeliveryOutcome maps a Process error to an outcome label.
func DeliveryOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeProcessed
	case errors.Is(err, domain.ErrInterrupted):
		return OutcomeInterrupted
	case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrConcurrentUpdate):
		return OutcomeBusy
	case errors.Is(err, domain.ErrTemporary):
		return OutcomeTemporary
	default:
		return OutcomeFailed
	}
}
