package api

import (
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// rateLimiter gates incoming requests across all clients.
type rateLimiter interface {
	Allow() bool
}

// retryAfterSeconds is the Retry-After floor for 429 responses.
const retryAfterSeconds = 1

type retryHinter interface {
	RetryAfterSeconds() int
}

type limiterAdapter struct {
	limiter *rate.Limiter
}

func newTokenBucketLimiter(ratePerSecond float64, burst int) rateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}

	return &limiterAdapter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func (l *limiterAdapter) Allow() bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// RetryAfterSeconds reports how long one token takes to refill, rounded up.
func (l *limiterAdapter) RetryAfterSeconds() int {
	if l == nil || l.limiter == nil || l.limiter.Limit() <= 0 {
		return retryAfterSeconds
	}
	return max(retryAfterSeconds, int(math.Ceil(1/float64(l.limiter.Limit()))))
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		retry := retryAfterSeconds
		if hinter, ok := limiter.(retryHinter); ok {
			retry = hinter.RetryAfterSeconds()
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "Too many requests", "rate limit exceeded, please retry shortly")
	})
}
