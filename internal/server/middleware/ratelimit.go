package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 10 * time.Minute
	limiterIdleTTL       = 30 * time.Minute
)

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// keyedLimiters hands out one token bucket per key and forgets keys that
// have been idle for limiterIdleTTL.
type keyedLimiters[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
	limit   rate.Limit
	burst   int
}

func newKeyedLimiters[K comparable](ctx context.Context, requestsPerSecond float64, burst int) *keyedLimiters[K] {
	kl := &keyedLimiters[K]{
		entries: make(map[K]*entry),
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
	}
	go kl.sweep(ctx)
	return kl
}

func (kl *keyedLimiters[K]) sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleTTL)
			kl.mu.Lock()
			for k, e := range kl.entries {
				if e.lastAccess.Before(cutoff) {
					delete(kl.entries, k)
				}
			}
			kl.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (kl *keyedLimiters[K]) allow(key K) bool {
	kl.mu.Lock()
	e, ok := kl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.entries[key] = e
	}
	e.lastAccess = time.Now()
	kl.mu.Unlock()

	return e.limiter.Allow()
}

func tooManyRequests(w http.ResponseWriter) {
	http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
}

// RateLimitByIP applies per-IP rate limiting for routes served before
// authentication. Place it after chi's RealIP middleware.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newKeyedLimiters[string](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if !limiters.allow(ip) {
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies per-user rate limiting to authenticated routes.
func RateLimit(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newKeyedLimiters[uuid.UUID](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !limiters.allow(userID) {
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
