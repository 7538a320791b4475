package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidvault/internal/api/response"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

const maxListLimit = 1000

// JobStore is the part of the store the job endpoints use.
type JobStore interface {
	EnqueueJob(ctx context.Context, jobType models.JobType, payload, owner string) (*models.Job, bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error)
	DeleteCompletedJobs(ctx context.Context) (int64, error)
}

type createJobRequest struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Owner   string `json:"owner"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// A new job answers 201; an identical job already waiting answers 200 with
// that job.
func NewCreateJobHandler(jobs JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		jobType := models.JobType(strings.TrimSpace(req.Type))
		if !jobType.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown job type",
				map[string][]models.JobType{"allowed": models.JobTypes})
			return
		}
		payload := strings.TrimSpace(req.Payload)
		if payload == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "payload is required", nil)
			return
		}
		if jobType.RequiresVideoID() {
			if _, err := uuid.Parse(payload); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "payload must be a video id", nil)
				return
			}
		}

		job, created, err := jobs.EnqueueJob(r.Context(), jobType, payload, req.Owner)
		if err != nil {
			slog.Error("enqueue job", "type", jobType, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not enqueue job", nil)
			return
		}
		if !created {
			response.JSON(w, job)
			return
		}
		slog.Info("job enqueued", "job_id", job.ID, "type", job.Type)
		response.Created(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(jobs JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.JobFilter{
			Status: q.Get("status"),
			Type:   models.JobType(q.Get("type")),
			Limit:  100,
		}

		switch filter.Status {
		case "", models.JobStatusQueued, models.JobStatusProcessing,
			models.JobStatusCompleted, models.JobStatusFailed:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown job status", nil)
			return
		}
		if filter.Type != "" && !filter.Type.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown job type", nil)
			return
		}
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxListLimit {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 1000", nil)
				return
			}
			filter.Limit = n
		}

		list, err := jobs.ListJobs(r.Context(), filter)
		if err != nil {
			slog.Error("list jobs", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not list jobs", nil)
			return
		}
		response.Collection(w, list, response.ListMeta{Count: len(list), Limit: filter.Limit})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(jobs JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		job, err := jobs.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			slog.Error("get job", "job_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load job", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewPurgeJobsHandler returns an http.HandlerFunc for
// DELETE /api/v1/jobs/completed.
func NewPurgeJobsHandler(jobs JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := jobs.DeleteCompletedJobs(r.Context())
		if err != nil {
			slog.Error("purge jobs", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not purge jobs", nil)
			return
		}
		slog.Info("completed jobs purged", "deleted", n)
		response.JSON(w, map[string]int64{"deleted": n})
	}
}
