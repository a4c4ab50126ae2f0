package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

func serve(t *testing.T, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Request-ID", "req-health")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHealthHandler_AllChecksHealthy(t *testing.T) {
	manager := NewHealthManager("0.4.0")
	manager.RegisterChecker("run_store", stubChecker{})
	manager.RegisterChecker("signals", stubChecker{})

	rec := serve(t, manager.HealthHandler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "0.4.0", resp.Version)
	assert.NotEmpty(t, resp.Timestamp)
	assert.Equal(t, map[string]string{"run_store": "healthy", "signals": "healthy"}, resp.Checks)
}

func TestHealthHandler_StoreDownIsUnavailable(t *testing.T) {
	manager := NewHealthManager("0.4.0")
	manager.RegisterChecker("run_store", stubChecker{err: errors.New("database is locked")})
	manager.RegisterChecker("signals", stubChecker{})

	rec := serve(t, manager.HealthHandler, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code      string         `json:"code"`
			RequestID string         `json:"request_id"`
			Details   map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
	assert.Equal(t, "req-health", resp.Error.RequestID)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok, "details should carry the per-check results")
	assert.Equal(t, "unhealthy", checks["run_store"])
	assert.Equal(t, "healthy", checks["signals"])
}

func TestHealthHandler_TimedOutCheckIsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("run_store", stubChecker{err: context.DeadlineExceeded})

	rec := serve(t, manager.ReadinessHandler, "/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "timeout", resp.Checks["run_store"])
}

func TestDetermineOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")

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
			assert.Equal(t, tt.want, manager.determineOverallStatus(tt.checks))
		})
	}
}

func TestLivenessIgnoresCheckers(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("run_store", stubChecker{err: errors.New("down")})

	rec := serve(t, manager.LivenessHandler, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartupHandlerReportsUptime(t *testing.T) {
	manager := NewHealthManager("1.0.0")

	rec := serve(t, manager.StartupHandler, "/health/startup")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.NotEmpty(t, body["uptime"])
}

func TestGlobalHealthManager(t *testing.T) {
	original := GetHealthManager()
	defer func() {
		globalMu.Lock()
		globalHealthManager = original
		globalMu.Unlock()
	}()

	globalMu.Lock()
	globalHealthManager = nil
	globalMu.Unlock()
	assert.Nil(t, GetHealthManager())

	m := InitHealthManager("2.0.0")
	assert.Same(t, m, GetHealthManager())

	handlers := map[string]http.HandlerFunc{
		"/health":         HealthHandler,
		"/health/live":    LivenessHandler,
		"/health/ready":   ReadinessHandler,
		"/health/startup": StartupHandler,
	}
	for path, h := range handlers {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, serve(t, h, path).Code)
		})
	}
}

func TestGlobalHandlersWithoutManager(t *testing.T) {
	original := GetHealthManager()
	defer func() {
		globalMu.Lock()
		globalHealthManager = original
		globalMu.Unlock()
	}()

	globalMu.Lock()
	globalHealthManager = nil
	globalMu.Unlock()

	for _, h := range []http.HandlerFunc{HealthHandler, LivenessHandler, ReadinessHandler, StartupHandler} {
		rec := serve(t, h, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")
	}
}
