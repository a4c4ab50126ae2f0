package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/errors"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/dispatch"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/orchestrator"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

type fakeRunService struct {
	runs      map[string]runstore.Run
	createErr error

	createdFor string
	actor      runstore.Actor
	filter     runstore.ListFilter
}

func (f *fakeRunService) CreateManualRun(ctx context.Context, pipelineID string, actor runstore.Actor) (*orchestrator.RunView, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdFor = pipelineID
	f.actor = actor
	queued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &orchestrator.RunView{
		Run:  runstore.Run{RunID: "r-new", PipelineID: pipelineID, State: runstore.StateRequested, QueuedTime: &queued, ModifiedBy: actor},
		Logs: []runstore.LogEntry{},
	}, nil
}

func (f *fakeRunService) GetRun(ctx context.Context, runID string) (*orchestrator.RunView, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrRunNotFound, runID)
	}
	return &orchestrator.RunView{Run: run, Logs: []runstore.LogEntry{}}, nil
}

func (f *fakeRunService) ListRuns(ctx context.Context, pipelineID string, filter runstore.ListFilter) ([]runstore.Run, error) {
	f.filter = filter
	if filter.State != "" {
		if _, ok := runstore.ParseState(string(filter.State)); !ok {
			return nil, fmt.Errorf("%w %q", orchestrator.ErrInvalidFilter, filter.State)
		}
	}
	out := []runstore.Run{}
	for _, run := range f.runs {
		if run.PipelineID == pipelineID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRunService) ListOngoingRuns(ctx context.Context) ([]runstore.Run, error) {
	out := []runstore.Run{}
	for _, run := range f.runs {
		if run.State.InFlight() {
			out = append(out, run)
		}
	}
	return out, nil
}

func newRunsRouter(svc RunService) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", NewRunsHandler(svc).Routes)
	return r
}

func serveRequest(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateRun(t *testing.T) {
	svc := &fakeRunService{}
	h := newRunsRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines/p-1/runs", nil)
	req.Header.Set(UserIDHeader, "u-7")
	req.Header.Set(UserNameHeader, "Ada")
	rec := serveRequest(t, h, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "p-1", svc.createdFor)
	require.NotNil(t, svc.actor.UserID)
	assert.Equal(t, "u-7", *svc.actor.UserID)
	assert.Equal(t, "Ada", svc.actor.Name)

	var view orchestrator.RunView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "r-new", view.RunID)
	assert.Equal(t, runstore.StateRequested, view.State)
}

func TestCreateRunRequiresUser(t *testing.T) {
	h := newRunsRouter(&fakeRunService{})

	rec := serveRequest(t, h, httptest.NewRequest(http.MethodPost, "/api/v1/pipelines/p-1/runs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRunErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown pipeline", fmt.Errorf("%w: p-1", orchestrator.ErrPipelineNotFound), http.StatusNotFound},
		{"executor rejected", fmt.Errorf("%w: 500", dispatch.ErrDispatchFailed), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRunsRouter(&fakeRunService{createErr: tt.err})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines/p-1/runs", nil)
			req.Header.Set(UserIDHeader, "u-7")
			rec := serveRequest(t, h, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGetRun(t *testing.T) {
	svc := &fakeRunService{runs: map[string]runstore.Run{
		"r-1": {RunID: "r-1", PipelineID: "p-1", State: runstore.StateInProgress},
	}}
	h := newRunsRouter(svc)

	rec := serveRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view orchestrator.RunView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, runstore.StateInProgress, view.State)
	assert.NotNil(t, view.Logs)

	rec = serveRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r-missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
}

func TestListRuns(t *testing.T) {
	svc := &fakeRunService{runs: map[string]runstore.Run{
		"r-1": {RunID: "r-1", PipelineID: "p-1", State: runstore.StateFailed},
	}}
	h := newRunsRouter(svc)

	rec := serveRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/pipelines/p-1/runs?state=failed&take=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, runstore.StateFailed, svc.filter.State)
	assert.Equal(t, 5, svc.filter.Take)

	var runs []runstore.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	assert.Len(t, runs, 1)

	rec = serveRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/pipelines/p-2/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListRunsRejectsBadQuery(t *testing.T) {
	h := newRunsRouter(&fakeRunService{})

	for _, q := range []string{"?take=0", "?take=abc", "?state=RUNNING"} {
		rec := serveRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/pipelines/p-1/runs"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListOngoing(t *testing.T) {
	svc := &fakeRunService{runs: map[string]runstore.Run{
		"r-1": {RunID: "r-1", PipelineID: "p-1", State: runstore.StateQueued},
		"r-2": {RunID: "r-2", PipelineID: "p-1", State: runstore.StateSuccessful},
	}}
	h := newRunsRouter(svc)

	rec := serveRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/runs/ongoing", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []runstore.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "r-1", runs[0].RunID)
}
