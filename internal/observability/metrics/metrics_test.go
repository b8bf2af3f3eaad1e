package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	return rec.Body.String()
}

func assertLine(t *testing.T, body, line string) {
	t.Helper()
	for _, l := range strings.Split(body, "\n") {
		if l == line {
			return
		}
	}
	t.Fatalf("missing metric line %q in:\n%s", line, body)
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/runs":                "/v1/runs",
		"/v1/runs/abc":            "/v1/runs/{run_id}",
		"/v1/runs/abc/validation": "/v1/runs/{run_id}/validation",
		"/v1/runs/abc/entry.xlsx": "/v1/runs/{run_id}/entry.xlsx",
		"/v1/documents":           "/v1/documents",
		"/v1/learning/sessions":   "/v1/learning/sessions",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareCountsRequests(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/runs/r1/cancel", nil))

	assertLine(t, scrape(t, m.Handler()),
		`ledger_http_requests_total{method="POST",path="/v1/runs/{run_id}/cancel",service="api",status="202"} 1`)
}

func TestPipelineMetricsShareRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	m := NewPipelineMetrics("api", httpMetrics.Registerer())

	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(true)
	m.ObserveStage(domain.StageExtraction, time.Second, domain.WrapError(domain.ErrExtraction, "extract", errors.New("no text")))
	m.ObserveRunFinished(domain.StateValidated, time.Minute)
	m.ObserveLearningSession(domain.SessionCompleted, domain.CompetencySnapshot{
		Threshold:    81,
		Competencies: map[domain.CompetencyDomain]float64{domain.CompetencyEntries: 86},
	})
	m.BreakerStateChanged("ocr.recognize", "closed", "open")

	body := scrape(t, httpMetrics.Handler())
	assertLine(t, body, `ledger_cache_lookups_total{result="hit",service="api"} 2`)
	assertLine(t, body, `ledger_pipeline_stage_failures_total{kind="ExtractionError",service="api",stage="extraction"} 1`)
	assertLine(t, body, `ledger_pipeline_runs_finished_total{service="api",state="validated"} 1`)
	assertLine(t, body, `ledger_learning_auto_validation_threshold{service="api"} 81`)
	assertLine(t, body, `ledger_learning_competency{domain="entry_generation",service="api"} 86`)
	assertLine(t, body, `ledger_resilience_circuit_breaker_open{operation="ocr.recognize",service="api"} 1`)
}

func TestWorkerMetrics(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartDelivery(time.Time{})
	m.FinishDelivery(domain.StateError, time.Second, fmt.Errorf("process run: %w", domain.ErrInterrupted))
	m.StartDelivery(time.Now().Add(time.Hour))
	m.FinishDelivery("", time.Millisecond, errors.New("boom"))
	m.StartDelivery(time.Now())
	m.FinishDelivery(domain.StateAwaitingValidation, time.Second, nil)

	body := scrape(t, m.Handler())
	assertLine(t, body, `ledger_worker_deliveries_total{outcome="interrupted",service="worker",state="error"} 1`)
	assertLine(t, body, `ledger_worker_deliveries_total{outcome="failed",service="worker",state="unknown"} 1`)
	assertLine(t, body, `ledger_worker_deliveries_total{outcome="processed",service="worker",state="awaiting_validation"} 1`)
	assertLine(t, body, `ledger_worker_stalled_runs_failed_total{service="worker"} 1`)
	assertLine(t, body, `ledger_worker_deliveries_in_flight{service="worker"} 0`)
	assertLine(t, body, `ledger_worker_queue_lag_seconds_count{service="worker"} 1`)
}

func TestDeliveryOutcome(t *testing.T) {
	cases := map[string]error{
		OutcomeProcessed:   nil,
		OutcomeBusy:        domain.WrapError(domain.ErrInvalidStateTransition, "process run", errors.New("extracting")),
		OutcomeTemporary:   domain.WrapError(domain.ErrTemporary, "ocr recognize", errors.New("502")),
		OutcomeInterrupted: domain.WrapError(domain.ErrInterrupted, "process run", errors.New("stalled")),
		OutcomeFailed:      errors.New("boom"),
	}
	for want, err := range cases {
		if got := DeliveryOutcome(err); got != want {
			t.Fatalf("%v: got %q want %q", err, got, want)
		}
	}
}
