package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
		req.RemoteAddr = ip + ":4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1"))
	// другой IP со своим bucket
	assert.Equal(t, http.StatusNoContent, do("10.0.0.2"))
}

func TestRateLimiter_SpoofedHeadersShareBucket(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(fwd string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
		req.RemoteAddr = "192.0.2.50:4000"
		req.Header.Set("X-Forwarded-For", fwd)
		req.Header.Set("X-Real-Ip", fwd)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("203.0.113.2"))
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(5 * time.Minute)
	rl.Allow("10.0.0.2")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.Sweep(10*time.Minute))
	assert.Equal(t, 1, rl.Len())

	// свежий bucket: прежний лимит не наследуется
	rl.Allow("10.0.0.1")
	assert.Equal(t, 2, rl.Len())
	assert.Equal(t, 0, rl.Sweep(10*time.Minute))
}

func TestRateLimiter_RunStopsOnCancel(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Real-Ip", "198.51.100.4")
	assert.Equal(t, "192.0.2.7", ClientIP(req))

	req.RemoteAddr = "192.0.2.8"
	assert.Equal(t, "192.0.2.8", ClientIP(req))
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(RequestLog(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRecoverJSON_AfterWrite(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("partial"))
		panic("late")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}
