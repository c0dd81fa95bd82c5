package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterRejectsOverCapacity(t *testing.T) {
	limiter := NewLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		res := limiter.Allow("origin-1")
		require.True(t, res.Allowed, "request %d should pass", i+1)
	}

	res := limiter.Allow("origin-1")
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestLimiterRefillsOverWindow(t *testing.T) {
	limiter := NewLimiter(2, 100*time.Millisecond)

	require.True(t, limiter.Allow("k").Allowed)
	require.True(t, limiter.Allow("k").Allowed)
	require.False(t, limiter.Allow("k").Allowed)

	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow("k").Allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, time.Minute)

	require.True(t, limiter.Allow("a").Allowed)
	require.False(t, limiter.Allow("a").Allowed)
	assert.True(t, limiter.Allow("b").Allowed)
}

func TestSweepDropsStaleBuckets(t *testing.T) {
	limiter := NewLimiter(1, time.Minute)

	limiter.Allow("stale")
	removed := limiter.Sweep(0)
	assert.Equal(t, 1, removed)
	assert.Empty(t, limiter.buckets)
}

func TestMiddlewareRepliesTooManyRequests(t *testing.T) {
	limiter := NewLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.RemoteAddr = "198.51.100.7:51234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestOriginKeyPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	assert.Equal(t, "10.0.0.1", OriginKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", OriginKey(req))
}
