package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/3leaps/goflash/internal/errors"
	"github.com/3leaps/goflash/pkg/jobregistry"
)

// JobsResponse is the body of GET /v1/jobs.
type JobsResponse struct {
	Jobs []jobregistry.JobRecord `json:"jobs"`
}

// JobsHandler serves the on-disk job registry.
type JobsHandler struct {
	store *jobregistry.Store
}

func NewJobsHandler(store *jobregistry.Store) *JobsHandler {
	return &JobsHandler{store: store}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.List)
	r.Get("/jobs/{id}", h.Get)
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		apperrors.WriteJSON(w, http.StatusOK, JobsResponse{Jobs: []jobregistry.JobRecord{}})
		return
	}
	jobs, err := h.store.List()
	if err != nil {
		respondWithError(w, r, apperrors.NewInternal("Failed to list jobs").WithCause(err))
		return
	}
	if jobs == nil {
		jobs = []jobregistry.JobRecord{}
	}
	apperrors.WriteJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		respondWithError(w, r, apperrors.NewBadRequest("Invalid job id").WithDetails(map[string]any{"job_id": id}))
		return
	}
	if h.store == nil {
		respondWithError(w, r, apperrors.NewNotFound("Job not found"))
		return
	}
	rec, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondWithError(w, r, apperrors.NewNotFound("Job not found").WithDetails(map[string]any{"job_id": id}))
			return
		}
		respondWithError(w, r, apperrors.NewBadRequest("Invalid job id").WithCause(err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, rec)
}
