package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/deneee3444-wq/api/internal/api/response"
	"github.com/deneee3444-wq/api/internal/jobs"
	"github.com/deneee3444-wq/api/internal/store"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}

		page := queryInt(r, "page", 1)
		limit := min(queryInt(r, "limit", defaultPageLimit), maxPageLimit)

		all, err := svc.List(r.Context(), tenantID)
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		if all == nil {
			all = []*models.Job{}
		}

		start := min((page-1)*limit, len(all))
		end := min(start+limit, len(all))
		response.Collection(w, all[start:end], response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   len(all),
			HasNext: end < len(all),
		})
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, chi.URLParam(r, "jobID"), "jobID")
		if !ok {
			return
		}

		job, err := svc.Get(r.Context(), tenantID, jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
			return
		}
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

type statusResponse struct {
	JobID         string    `json:"job_id"`
	Status        string    `json:"status"`
	ResultLocator string    `json:"result_locator,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewJobStatusHandler returns the handler for GET /api/v1/jobs/{jobID}/status,
// the lightweight poll answered from the status mirror.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, chi.URLParam(r, "jobID"), "jobID")
		if !ok {
			return
		}

		snap, err := svc.Status(r.Context(), tenantID, jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
			return
		}
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		response.JSON(w, statusResponse{
			JobID:         jobID.String(),
			Status:        snap.Status,
			ResultLocator: snap.ResultLocator,
			UpdatedAt:     snap.UpdatedAt,
		})
	}
}

// NewQuotaHandler returns the handler for GET /api/v1/quota.
func NewQuotaHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		q, err := svc.Quota(r.Context(), tenantID)
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		response.JSON(w, q)
	}
}

// NewVoicesHandler returns the handler for GET /api/v1/voices.
func NewVoicesHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voices, err := svc.Voices(r.Context())
		switch {
		case errors.Is(err, jobs.ErrSpeechUnavailable):
			response.Error(w, http.StatusServiceUnavailable, response.CodeSpeechUnavailable,
				"Speech synthesis is not configured", nil)
		case err != nil:
			response.Error(w, http.StatusBadGateway, response.CodeUpstreamUnavailable,
				"Voice catalogue is unavailable", nil)
		default:
			if voices == nil {
				voices = []models.Voice{}
			}
			response.JSON(w, map[string]any{"voices": voices})
		}
	}
}
