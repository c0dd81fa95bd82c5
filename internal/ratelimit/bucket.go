package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"jamroom/pkg/logger"
)

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// Limiter is a token bucket per actor key: capacity max tokens, refilled
// linearly to full over window. Each accepted unit of work costs one
// token. State is process-local only.
type Limiter struct {
	mu      sync.Mutex
	max     float64
	window  time.Duration
	buckets map[string]*bucket
}

func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:     float64(max),
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

// Named policies. Strict guards authentication endpoints, Moderate general
// read/write, Lenient search-type endpoints.
func Strict() *Limiter   { return NewLimiter(10, time.Minute) }
func Moderate() *Limiter { return NewLimiter(60, time.Minute) }
func Lenient() *Limiter  { return NewLimiter(120, time.Minute) }

// Allow charges one token against key. On exhaustion the retry-after is
// proportional to the fractional deficit at the current refill rate.
func (l *Limiter) Allow(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.max, lastFill: now}
		l.buckets[key] = b
	}

	refillPerSec := l.max / l.window.Seconds()
	b.tokens += now.Sub(b.lastFill).Seconds() * refillPerSec
	if b.tokens > l.max {
		b.tokens = l.max
	}
	b.lastFill = now

	if b.tokens < 1 {
		deficit := 1 - b.tokens
		return Result{
			Allowed:    false,
			Remaining:  b.tokens,
			RetryAfter: time.Duration(deficit / refillPerSec * float64(time.Second)),
		}
	}

	b.tokens--
	return Result{Allowed: true, Remaining: b.tokens}
}

// Sweep drops buckets idle longer than olderThan so the table stays
// bounded.
func (l *Limiter) Sweep(olderThan time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for key, b := range l.buckets {
		if b.lastFill.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// StartSweeping sweeps on a fixed interval until ctx is cancelled.
func (l *Limiter) StartSweeping(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(2 * l.window); n > 0 {
					logger.Debug("Swept %d stale rate limit buckets", n)
				}
			}
		}
	}()
}

// Middleware throttles requests by apparent network origin, replying 429
// with a Retry-After header on exhaustion.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := l.Allow(OriginKey(r))
		if !res.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())+1))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OriginKey extracts the apparent client origin of a request, preferring
// the first X-Forwarded-For hop.
func OriginKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
