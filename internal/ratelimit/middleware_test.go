package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shiko/internal/auth"
	"github.com/ashita-ai/shiko/internal/ctxutil"
	"github.com/ashita-ai/shiko/internal/model"
)

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("backend down") }
func (errLimiter) Close() error                                { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestMiddlewareDeniesOverBurst(t *testing.T) {
	m, _ := newTestLimiter(t, 1, 1)
	h := Middleware(m, ClientKeyFunc, testLogger())(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	req = req.WithContext(ctxutil.WithRequestID(req.Context(), "req-42"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-42", body.Meta.RequestID)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	h := Middleware(errLimiter{}, ClientKeyFunc, testLogger())(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	m, _ := newTestLimiter(t, 1, 1)
	h := Middleware(m, func(*http.Request) string { return "" }, testLogger())(okHandler)

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 0, m.Len())
}

func TestClientKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		clientID   string
		want       string
	}{
		{"ipv4", "192.168.1.7:4242", "", "ip:192.168.1.7"},
		{"ipv6", "[::1]:4242", "", "ip:::1"},
		{"no port", "unix-socket", "", "ip:unix-socket"},
		{"authenticated", "192.168.1.7:4242", "planner", "client:planner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			req.RemoteAddr = tt.remoteAddr
			req.Header.Set("X-Forwarded-For", "1.2.3.4")
			if tt.clientID != "" {
				req = req.WithContext(ctxutil.WithClaims(req.Context(), &auth.Claims{ClientID: tt.clientID}))
			}
			assert.Equal(t, tt.want, ClientKeyFunc(req))
		})
	}
}
