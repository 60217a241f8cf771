package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/catalog-importer/internal/database"
	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/pipeline"
	"github.com/maltedev/catalog-importer/internal/scraper"
	"github.com/maltedev/catalog-importer/internal/storage"
)

const ServiceName = "catalog-importer"

// Runner executes one import job to completion.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Summary, error)
}

type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
}

// BacklogFunc reports outbox events waiting to be published and events in
// dead letter.
type BacklogFunc func(ctx context.Context) (pending, deadLetter int64, err error)

type Handlers struct {
	runner  Runner
	jobs    JobReader
	backlog BacklogFunc
	version string
	busy    atomic.Bool
	now     func() time.Time
	logger  *slog.Logger
}

func NewHandlers(runner Runner, jobs JobReader, backlog BacklogFunc, version string, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner:  runner,
		jobs:    jobs,
		backlog: backlog,
		version: version,
		now:     time.Now,
		logger:  logger.With("component", "api"),
	}
}

type CredentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TriggerRequest starts one import job.
type TriggerRequest struct {
	Credentials CredentialsPayload `json:"credentials"`
	Mode        string             `json:"mode"`
	Filter      string             `json:"filter"`
	TargetCount int                `json:"target_count"`
}

func (t TriggerRequest) pipelineRequest() pipeline.Request {
	return pipeline.Request{
		Credentials: scraper.Credentials{
			Username: t.Credentials.Username,
			Password: t.Credentials.Password,
		},
		Mode:        models.JobMode(t.Mode),
		Filter:      t.Filter,
		TargetCount: t.TargetCount,
	}
}

// TriggerImport runs a job synchronously and answers with its summary. Only
// one job runs at a time; a second trigger gets 409.
func (h *Handlers) TriggerImport(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if mode, ok := models.ParseJobMode(req.Mode); ok {
		req.Mode = string(mode)
	}

	if !h.busy.CompareAndSwap(false, true) {
		h.respondError(w, http.StatusConflict, "an import job is already running")
		return
	}
	defer h.busy.Store(false)

	// a disconnecting client does not stop the job
	ctx := context.WithoutCancel(r.Context())

	summary, err := h.runner.Run(ctx, req.pipelineRequest())
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusOK, summary)
	case errors.Is(err, pipeline.ErrInvalidRequest):
		h.respondJSON(w, http.StatusBadRequest, summary)
	default:
		h.logger.Error("import job failed", "job_id", summary.JobID, "error", err)
		h.respondJSON(w, http.StatusInternalServerError, summary)
	}
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, database.ErrNotFound) || errors.Is(err, storage.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "job_id", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Busy      bool           `json:"busy"`
	Outbox    *OutboxBacklog `json:"outbox,omitempty"`
}

type OutboxBacklog struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Service:   ServiceName,
		Version:   h.version,
		Timestamp: h.now().UTC(),
		Busy:      h.busy.Load(),
	}

	if h.backlog != nil {
		pending, dead, err := h.backlog(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
		} else {
			resp.Outbox = &OutboxBacklog{Pending: pending, DeadLetter: dead}
			if dead > 0 {
				resp.Status = "degraded"
			}
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
