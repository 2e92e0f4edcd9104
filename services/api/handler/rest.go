package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/postgres"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/queue"
	rediscache "github.com/NeilDarrenLtd/zarzoom-core/internal/redis"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/telemetry"
)

// REST handles the job queue HTTP API.
type REST struct {
	producer *queue.Producer
	results  *queue.Results
	repo     postgres.JobRepository
	quota    rediscache.QuotaEnforcer
	logger   *slog.Logger
}

// NewREST creates the job API handler. quota may be nil to disable metering.
func NewREST(
	producer *queue.Producer,
	results *queue.Results,
	repo postgres.JobRepository,
	quota rediscache.QuotaEnforcer,
	logger *slog.Logger,
) *REST {
	return &REST{producer: producer, results: results, repo: repo, quota: quota, logger: logger}
}

// EnqueueRequest is the JSON body for POST /api/v1/jobs.
type EnqueueRequest struct {
	TenantID     string          `json:"tenant_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	MaxAttempts  int             `json:"max_attempts"`
	CallbackURL  string          `json:"callback_url"`
	DelayMs      *int64          `json:"delay_ms,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// EnqueueResponse is the 202 response body.
type EnqueueResponse struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	ScheduledFor time.Time `json:"scheduled_for"`
	CreatedAt    time.Time `json:"created_at"`
}

// JobResponse is the GET /api/v1/jobs/{id} response body.
type JobResponse struct {
	JobID        string          `json:"job_id"`
	TenantID     string          `json:"tenant_id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	Attempt      int             `json:"attempt"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ClaimRequest is the JSON body for POST /api/v1/jobs/claim.
type ClaimRequest struct {
	Limit int `json:"limit"`
}

// ResultRequest is the JSON body for POST /api/v1/jobs/{id}/result.
type ResultRequest struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Enqueue handles POST /api/v1/jobs.
func (h *REST) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.enqueue_job")
	defer span.End()

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	span.SetAttributes(
		attribute.String("job.type", req.Type),
		attribute.String("job.tenant_id", req.TenantID),
	)

	if h.quota != nil && req.TenantID != "" {
		metric := usageMetric(req.Type)
		if err := h.quota.Enforce(ctx, req.TenantID, metric); err != nil {
			var exceeded *domain.QuotaExceededError
			if errors.As(err, &exceeded) {
				writeError(w, http.StatusTooManyRequests, err.Error())
				return
			}
			h.logger.Error("quota check failed",
				slog.String("tenant_id", req.TenantID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to check quota")
			return
		}
	}

	opts := queue.Options{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		CallbackURL: req.CallbackURL,
	}

	var job *domain.Job
	var err error
	if req.DelayMs != nil || req.ScheduledFor != nil {
		if req.DelayMs != nil {
			d := time.Duration(*req.DelayMs) * time.Millisecond
			opts.Delay = &d
		}
		opts.ScheduledFor = req.ScheduledFor
		job, _, err = h.producer.EnqueueDelayed(ctx, req.TenantID, req.Type, req.Payload, opts)
	} else {
		job, _, err = h.producer.EnqueueNow(ctx, req.TenantID, req.Type, req.Payload, opts)
	}
	if err != nil {
		var invalid *domain.InvalidEnqueueError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Reason)
			return
		}
		h.logger.Error("enqueue failed",
			slog.String("job_type", req.Type),
			slog.String("tenant_id", req.TenantID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	if h.quota != nil && req.TenantID != "" {
		if err := h.quota.IncrementUsage(ctx, req.TenantID, usageMetric(req.Type)); err != nil {
			// The job is already durable; a missed usage tick is a log line.
			h.logger.Warn("usage increment failed",
				slog.String("tenant_id", req.TenantID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusAccepted, EnqueueResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		ScheduledFor: job.ScheduledFor,
		CreatedAt:    job.CreatedAt,
	})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *REST) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.repo.GetByID(r.Context(), jobID)
	if err != nil {
		var notFound *domain.JobNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

// Claim handles POST /api/v1/jobs/claim: the polling worker atomically claims
// a batch of due jobs. Each claimed job arrives as a signed message.
func (h *REST) Claim(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.claim_jobs")
	defer span.End()

	// An empty body means default batch size.
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	jobs, err := h.repo.ClaimDue(ctx, limit)
	if err != nil {
		h.logger.Error("claim failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to claim jobs")
		return
	}

	msgs := make([]*domain.Message, 0, len(jobs))
	now := time.Now().UTC()
	for _, job := range jobs {
		msgs = append(msgs, h.producer.Message(job, now))
		telemetry.QueueJobsClaimed.WithLabelValues(job.Type).Inc()
	}

	span.SetAttributes(attribute.Int("jobs.claimed", len(msgs)))
	writeJSON(w, http.StatusOK, map[string]any{"jobs": msgs})
}

// Result handles POST /api/v1/jobs/{id}/result: the worker reports an outcome.
func (h *REST) Result(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	var req ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var job *domain.Job
	var err error
	switch req.Status {
	case "completed":
		job, err = h.results.Complete(ctx, jobID, req.Result)
	case "failed":
		if req.Error == "" {
			writeError(w, http.StatusBadRequest, "field 'error' is required for failed results")
			return
		}
		job, err = h.results.Fail(ctx, jobID, req.Error)
	default:
		writeError(w, http.StatusBadRequest, "field 'status' must be completed or failed")
		return
	}
	if err != nil {
		var notFound *domain.JobNotFoundError
		var terminal *domain.TerminalStateError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.As(err, &terminal):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("apply result failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to apply result")
		}
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz — checks database connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000"); err != nil {
		var notFound *domain.JobNotFoundError
		if !errors.As(err, &notFound) {
			writeError(w, http.StatusServiceUnavailable, "database not ready")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func jobResponse(job *domain.Job) JobResponse {
	return JobResponse{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		Type:         job.Type,
		Status:       string(job.Status),
		Priority:     job.Priority,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
		ScheduledFor: job.ScheduledFor,
		Result:       job.Result,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

// usageMetric buckets job types into the metric their quota meters, e.g.
// video.render and video.trim both count against "video".
func usageMetric(jobType string) string {
	if i := strings.Index(jobType, "."); i > 0 {
		return jobType[:i]
	}
	return jobType
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
