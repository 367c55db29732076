package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aloksahay/warhead/internal/logging"
)

func guarded(opts ...Option) http.Handler {
	return New(nil, nil, logging.Nop(), opts...).Handler(nil)
}

func health(h http.Handler, remote, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = remote
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func preflight(h http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/missiles/launch", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitPerClient(t *testing.T) {
	h := guarded(WithRateLimit(2, time.Hour))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, health(h, "203.0.113.7:5000", "").Code)
	}

	rec := health(h, "203.0.113.7:5001", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "too many requests, please try again later", body.Error)

	// other clients keep their own budget
	assert.Equal(t, http.StatusOK, health(h, "198.51.100.1:5000", "").Code)
}

func TestRateLimitDisabled(t *testing.T) {
	for _, h := range []http.Handler{guarded(), guarded(WithRateLimit(0, time.Minute))} {
		for i := 0; i < 50; i++ {
			require.Equal(t, http.StatusOK, health(h, "203.0.113.7:5000", "").Code)
		}
	}
}

func TestClientLimitsForgetIdleClients(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	limits := newClientLimits(1, 1, func() time.Time { return now })

	ok, _ := limits.reserve("a")
	assert.True(t, ok)
	ok, wait := limits.reserve("a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	now = now.Add(limiterIdle)
	limits.reserve("b")
	assert.NotContains(t, limits.clients, "a")
	assert.Contains(t, limits.clients, "b")
}

func TestCORSAnyOriginByDefault(t *testing.T) {
	h := guarded()

	rec := health(h, "203.0.113.7:5000", "https://game.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight(h, "https://game.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, allowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, allowedHeaders, rec.Header().Get("Access-Control-Allow-Headers"))

	rec = health(h, "203.0.113.7:5000", "")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowList(t *testing.T) {
	h := guarded(WithAllowedOrigins([]string{"https://game.example"}))

	rec := preflight(h, "https://game.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://game.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = preflight(h, "https://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))

	// simple requests still run, the browser withholds the response
	rec = health(h, "203.0.113.7:5000", "https://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
