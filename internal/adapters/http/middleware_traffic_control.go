package httpadapter

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	rateLimitClients   = 4096
	rateLimitClientTTL = 10 * time.Minute
)

// clientRateLimiter keeps one token bucket per client address.
type clientRateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func newClientRateLimiter(rps float64, burst int) *clientRateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	return &clientRateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](rateLimitClients, nil, rateLimitClientTTL),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (l *clientRateLimiter) limiterFor(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters.Get(client); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(client, lim)
	return lim
}

func (l *clientRateLimiter) retryAfter() string {
	seconds := int(math.Ceil(1 / float64(l.limit)))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func (l *clientRateLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiterFor(clientAddr(r)).Allow() {
			w.Header().Set("Retry-After", l.retryAfter())
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware admits at most maxInFlight concurrent requests and
// lets a request queue for wait before answering 503.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	sem := semaphore.NewWeighted(int64(maxInFlight))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sem.TryAcquire(1) {
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			err := sem.Acquire(ctx, 1)
			cancel()
			if err != nil {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "server is overloaded, retry later")
				return
			}
		}
		defer sem.Release(1)
		next.ServeHTTP(w, r)
	})
}
