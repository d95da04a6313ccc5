package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getHealth(t *testing.T, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec
}

func TestHealthHandler_AllCheckersHealthy(t *testing.T) {
	m := NewHealthManager("0.4.0")
	m.RegisterChecker("extractor", CheckerFunc(func(context.Context) error { return nil }))
	m.RegisterChecker("storage", CheckerFunc(func(context.Context) error { return nil }))

	rec := getHealth(t, m.HealthHandler)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "0.4.0", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
	assert.Equal(t, map[string]string{"extractor": "healthy", "storage": "healthy"}, resp.Checks)
}

func TestHealthHandler_FailingCheckerIsUnavailable(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("extractor", CheckerFunc(func(context.Context) error { return nil }))
	m.RegisterChecker("queue", CheckerFunc(func(context.Context) error { return errors.New("job queue full (64/64)") }))

	for name, h := range map[string]http.HandlerFunc{
		"health":    m.HealthHandler,
		"readiness": m.ReadinessHandler,
	} {
		t.Run(name, func(t *testing.T) {
			rec := getHealth(t, h)
			require.Equal(t, http.StatusServiceUnavailable, rec.Code)

			var resp struct {
				Error struct {
					Code    string         `json:"code"`
					Details map[string]any `json:"details"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

			checks, ok := resp.Error.Details["checks"].(map[string]any)
			require.True(t, ok, "details.checks missing")
			assert.Equal(t, "unhealthy", checks["queue"])
			assert.Equal(t, "healthy", checks["extractor"])
		})
	}
}

func TestHealthHandler_SlowCheckerDegrades(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("storage", CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "timeout", resp.Checks["storage"])
}

func TestDetermineOverallStatus(t *testing.T) {
	m := NewHealthManager("dev")
	tests := []struct {
		name   string
		checks map[string]string
		want   string
	}{
		{"no checks", nil, "healthy"},
		{"all healthy", map[string]string{"a": "healthy", "b": "healthy"}, "healthy"},
		{"timeout degrades", map[string]string{"a": "healthy", "b": "timeout"}, "degraded"},
		{"unhealthy wins over timeout", map[string]string{"a": "timeout", "b": "unhealthy"}, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.determineOverallStatus(tt.checks))
		})
	}
}

func TestLivenessIgnoresCheckers(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("storage", CheckerFunc(func(context.Context) error { return errors.New("bucket gone") }))

	for _, h := range []http.HandlerFunc{m.LivenessHandler, m.StartupHandler} {
		rec := getHealth(t, h)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGlobalHandlers(t *testing.T) {
	healthMu.Lock()
	original := globalHealthManager
	globalHealthManager = nil
	healthMu.Unlock()
	defer func() {
		healthMu.Lock()
		globalHealthManager = original
		healthMu.Unlock()
	}()

	assert.Nil(t, GetHealthManager())
	assert.Equal(t, http.StatusServiceUnavailable, getHealth(t, HealthHandler).Code)
	assert.Equal(t, http.StatusServiceUnavailable, getHealth(t, LivenessHandler).Code)

	m := InitHealthManager("1.0.0")
	require.Same(t, m, GetHealthManager())
	assert.Equal(t, http.StatusOK, getHealth(t, HealthHandler).Code)
	assert.Equal(t, http.StatusOK, getHealth(t, ReadinessHandler).Code)
	assert.Equal(t, http.StatusOK, getHealth(t, StartupHandler).Code)
}
