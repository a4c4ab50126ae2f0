package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	return response
}

func TestRecovery_PassesThrough(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"run_id":"r-1"}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pipelines/p-1/runs", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"run_id":"r-1"}`, rec.Body.String())
}

func TestRecovery_PanicBecomesInternalError(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantMsg string
	}{
		{"string panic", "store closed", "panic: store closed"},
		{"error panic", assert.AnError, "panic: " + assert.AnError.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.value)
			}))

			rec := httptest.NewRecorder()
			require.NotPanics(t, func() {
				handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/ongoing", nil))
			})

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			response := decodeError(t, rec)
			assert.Equal(t, "INTERNAL_ERROR", response.Error.Code)
			assert.Equal(t, tt.wantMsg, response.Error.Message)
		})
	}
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRecovery_CarriesRequestID(t *testing.T) {
	handler := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r-9", nil)
	req.Header.Set("X-Request-ID", "req-panic-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	response := decodeError(t, rec)
	assert.Equal(t, "req-panic-1", response.Error.RequestID)
	assert.Equal(t, "req-panic-1", response.Error.Details["correlation_id"])
}

func TestErrorHandlerMatchesRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("same")
	})

	a, b := httptest.NewRecorder(), httptest.NewRecorder()
	Recovery(panicking).ServeHTTP(a, httptest.NewRequest(http.MethodGet, "/", nil))
	ErrorHandler(panicking).ServeHTTP(b, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, decodeError(t, a).Error.Message, decodeError(t, b).Error.Message)
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		envelope *errors.ErrorEnvelope
		status   int
		wantCode string
		wantMsg  string
	}{
		{
			name:     "run not found",
			envelope: errors.NewErrorEnvelope("NOT_FOUND", "run r-1 not found"),
			status:   http.StatusNotFound,
			wantCode: "NOT_FOUND",
			wantMsg:  "run r-1 not found",
		},
		{
			name:     "executor unavailable",
			envelope: errors.NewErrorEnvelope("EXTERNAL_SERVICE_ERROR", "executor returned 503").WithCorrelationID("corr-1"),
			status:   http.StatusBadGateway,
			wantCode: "EXTERNAL_SERVICE_ERROR",
			wantMsg:  "executor returned 503",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeErrorResponse(rec, tt.envelope, tt.status)

			assert.Equal(t, tt.status, rec.Code)
			response := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, response.Error.Code)
			assert.Equal(t, tt.wantMsg, response.Error.Message)
		})
	}
}

func TestWriteErrorResponse_ContextBecomesDetails(t *testing.T) {
	envelope, err := errors.NewErrorEnvelope("VALIDATION_ERROR", "invalid state filter").
		WithContext(map[string]interface{}{"state": "DONE", "pipeline_id": "p-1"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	writeErrorResponse(rec, envelope, http.StatusBadRequest)

	response := decodeError(t, rec)
	assert.Equal(t, "DONE", response.Error.Details["state"])
	assert.Equal(t, "p-1", response.Error.Details["pipeline_id"])
}
