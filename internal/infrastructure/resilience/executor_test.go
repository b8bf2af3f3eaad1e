package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastRetry(breaker bool) Policy {
	return Policy{
		Dependency: DependencyOCR,
		Retry:      Backoff{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2},
		Breaker: Breaker{
			Enabled:       breaker,
			MinRequests:   2,
			FailureRatio:  0.5,
			OpenFor:       time.Minute,
			HalfOpenCalls: 1,
		},
	}
}

func TestCallRetriesUntilValue(t *testing.T) {
	exec := NewExecutor(fastRetry(false))

	attempts := 0
	got, err := Call(context.Background(), exec, "ocr", func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &HTTPStatusError{Service: "ocr", Operation: "recognize", StatusCode: http.StatusServiceUnavailable, Status: "503"}
		}
		return "text", nil
	}, ClassifyHTTP)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got != "text" || attempts != 3 {
		t.Fatalf("got %q after %d attempts", got, attempts)
	}
}

func TestCallDoesNotRetryClientError(t *testing.T) {
	exec := NewExecutor(fastRetry(false))

	attempts := 0
	_, err := Call(context.Background(), exec, "ocr", func(context.Context) (int, error) {
		attempts++
		return 0, &HTTPStatusError{Service: "ocr", Operation: "recognize", StatusCode: http.StatusBadRequest, Status: "400"}
	}, ClassifyHTTP)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected status error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAndNotifiesListener(t *testing.T) {
	var transitions []string
	cfg := fastRetry(true)
	cfg.Dependency = DependencyPublish
	cfg.Retry.Attempts = 1
	exec := NewExecutor(cfg, WithStateListener(func(op, from, to string) {
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", op, from, to))
	}))

	errDown := errors.New("down")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
			return errDown
		}, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("iteration %d: expected errDown, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if len(transitions) != 1 || transitions[0] != "nats.publish:closed->open" {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"cancelled", context.Canceled, ErrorClassification{}},
		{"gateway", &HTTPStatusError{StatusCode: http.StatusBadGateway}, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"unprocessable", &HTTPStatusError{StatusCode: http.StatusUnprocessableEntity}, ErrorClassification{}},
		{"open", gobreaker.ErrOpenState, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"other", errors.New("decode"), ErrorClassification{RecordFailure: true}},
	}
	for _, tc := range cases {
		if got := ClassifyHTTP(tc.err); got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
	}
}

func TestDependencyPoliciesDiffer(t *testing.T) {
	ocr, pub := OCRPolicy(), PublishPolicy()
	if ocr.Retry.Initial <= pub.Retry.Initial || ocr.Retry.Max <= pub.Retry.Max {
		t.Fatalf("expected OCR to back off slower than publish: %+v vs %+v", ocr.Retry, pub.Retry)
	}
	if ocr.Breaker.MinRequests >= pub.Breaker.MinRequests {
		t.Fatalf("expected OCR breaker to trip on a smaller sample: %d vs %d", ocr.Breaker.MinRequests, pub.Breaker.MinRequests)
	}
}

func TestNormalizeFallsBackToDependencyDefaults(t *testing.T) {
	got := NewExecutor(Policy{Dependency: DependencyOCR, Retry: Backoff{Attempts: -1, Initial: time.Second, Max: time.Millisecond}}).Policy()
	if got.Retry.Attempts != OCRPolicy().Retry.Attempts {
		t.Fatalf("expected OCR default attempts, got %d", got.Retry.Attempts)
	}
	if got.Retry.Max != time.Second {
		t.Fatalf("expected max raised to initial backoff, got %v", got.Retry.Max)
	}
	if got.Breaker.OpenFor != OCRPolicy().Breaker.OpenFor || got.Breaker.Enabled {
		t.Fatalf("unexpected breaker %+v", got.Breaker)
	}

	pub := NewExecutor(Policy{}).Policy()
	if pub.Dependency != DependencyPublish || pub.Breaker.MinRequests != PublishPolicy().Breaker.MinRequests {
		t.Fatalf("expected publish defaults for an empty policy, got %+v", pub)
	}
}

func TestBackoffDelayGrowsToMax(t *testing.T) {
	b := Backoff{Attempts: 5, Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 3}
	want := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := b.delay(i + 1); got != w {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
}
