package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/errors"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/orchestrator"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

// Headers identifying the caller of a manual run.
const (
	UserIDHeader   = "user_id"
	UserNameHeader = "user_name"
)

const maxTake = 1000

// RunService is the part of the orchestrator the run endpoints use.
type RunService interface {
	CreateManualRun(ctx context.Context, pipelineID string, actor runstore.Actor) (*orchestrator.RunView, error)
	GetRun(ctx context.Context, runID string) (*orchestrator.RunView, error)
	ListRuns(ctx context.Context, pipelineID string, filter runstore.ListFilter) ([]runstore.Run, error)
	ListOngoingRuns(ctx context.Context) ([]runstore.Run, error)
}

// RunsHandler serves the run endpoints.
type RunsHandler struct {
	svc RunService
}

// NewRunsHandler creates a RunsHandler over svc.
func NewRunsHandler(svc RunService) *RunsHandler {
	return &RunsHandler{svc: svc}
}

// Routes mounts the run endpoints on r.
func (h *RunsHandler) Routes(r chi.Router) {
	r.Post("/pipelines/{pipelineID}/runs", h.CreateRun)
	r.Get("/pipelines/{pipelineID}/runs", h.ListRuns)
	r.Get("/runs/ongoing", h.ListOngoing)
	r.Get("/runs/{runID}", h.GetRun)
}

// CreateRun starts a manual run. The caller is read from the user_id
// header and is required.
func (h *RunsHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if userID == "" {
		respondWithError(w, r, apperrors.NewValidationError("user_id header is required"))
		return
	}
	name := strings.TrimSpace(r.Header.Get(UserNameHeader))
	if name == "" {
		name = userID
	}

	view, err := h.svc.CreateManualRun(r.Context(), chi.URLParam(r, "pipelineID"), runstore.UserActor(userID, name))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, view)
}

// GetRun returns one run with logs and output.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, view)
}

// ListRuns lists a pipeline's runs, newest first. Supports ?state= and ?take=.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := runstore.ListFilter{State: runstore.State(strings.ToUpper(r.URL.Query().Get("state")))}
	if raw := r.URL.Query().Get("take"); raw != "" {
		take, err := strconv.Atoi(raw)
		if err != nil || take < 1 || take > maxTake {
			respondWithError(w, r, apperrors.NewValidationError("take must be an integer between 1 and 1000"))
			return
		}
		filter.Take = take
	}

	runs, err := h.svc.ListRuns(r.Context(), chi.URLParam(r, "pipelineID"), filter)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, runs)
}

// ListOngoing lists every in-flight run.
func (h *RunsHandler) ListOngoing(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.ListOngoingRuns(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, runs)
}
