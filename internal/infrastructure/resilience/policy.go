package resilience

import "time"

// Dependency names the external system a Policy guards. It prefixes breaker
// names and retry logs so OCR and publish failures stay separable.
type Dependency string

const (
	DependencyOCR     Dependency = "ocr"
	DependencyPublish Dependency = "publish"
)

type Backoff struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

type Breaker struct {
	Enabled       bool
	MinRequests   uint32
	FailureRatio  float64
	OpenFor       time.Duration
	HalfOpenCalls uint32
}

type Policy struct {
	Dependency Dependency
	Retry      Backoff
	Breaker    Breaker
}

// OCRPolicy suits the OCR engine: few slow calls per document, so retries
// back off for seconds and the breaker trips on a small sample.
func OCRPolicy() Policy {
	return Policy{
		Dependency: DependencyOCR,
		Retry: Backoff{
			Attempts:   3,
			Initial:    500 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2.5,
		},
		Breaker: Breaker{
			Enabled:       true,
			MinRequests:   5,
			FailureRatio:  0.6,
			OpenFor:       time.Minute,
			HalfOpenCalls: 1,
		},
	}
}

// PublishPolicy suits NATS publishing: every run transition emits an event,
// so retries are quick and the breaker needs a larger sample.
func PublishPolicy() Policy {
	return Policy{
		Dependency: DependencyPublish,
		Retry: Backoff{
			Attempts:   5,
			Initial:    50 * time.Millisecond,
			Max:        time.Second,
			Multiplier: 2,
		},
		Breaker: Breaker{
			Enabled:       true,
			MinRequests:   20,
			FailureRatio:  0.5,
			OpenFor:       15 * time.Second,
			HalfOpenCalls: 3,
		},
	}
}

func defaultsFor(dep Dependency) Policy {
	if dep == DependencyOCR {
		return OCRPolicy()
	}
	return PublishPolicy()
}

// normalize replaces unset or invalid fields with the dependency's defaults.
// Breaker.Enabled is taken as given.
func (p Policy) normalize() Policy {
	out := p
	def := defaultsFor(p.Dependency)
	if out.Dependency == "" {
		out.Dependency = def.Dependency
	}

	if out.Retry.Attempts <= 0 {
		out.Retry.Attempts = def.Retry.Attempts
	}
	if out.Retry.Initial <= 0 {
		out.Retry.Initial = def.Retry.Initial
	}
	if out.Retry.Max <= 0 {
		out.Retry.Max = def.Retry.Max
	}
	if out.Retry.Max < out.Retry.Initial {
		out.Retry.Max = out.Retry.Initial
	}
	if out.Retry.Multiplier < 1 {
		out.Retry.Multiplier = def.Retry.Multiplier
	}

	if out.Breaker.MinRequests == 0 {
		out.Breaker.MinRequests = def.Breaker.MinRequests
	}
	if out.Breaker.FailureRatio <= 0 || out.Breaker.FailureRatio > 1 {
		out.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	if out.Breaker.OpenFor <= 0 {
		out.Breaker.OpenFor = def.Breaker.OpenFor
	}
	if out.Breaker.HalfOpenCalls == 0 {
		out.Breaker.HalfOpenCalls = def.Breaker.HalfOpenCalls
	}
	return out
}

// delay returns the wait before retry number attempt (1-based).
func (b Backoff) delay(attempt int) time.Duration {
	wait := b.Initial
	for i := 1; i < attempt; i++ {
		wait = time.Duration(float64(wait) * b.Multiplier)
		if wait >= b.Max {
			return b.Max
		}
	}
	return min(wait, b.Max)
}
