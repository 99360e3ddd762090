package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maltedev/search-spider/internal/database"
	"github.com/maltedev/search-spider/internal/export"
	"github.com/maltedev/search-spider/internal/models"
	"github.com/maltedev/search-spider/internal/search"
	"github.com/maltedev/search-spider/internal/spider"
)

// JobService is the job manager as seen by the handlers.
type JobService interface {
	CreateJob(ctx context.Context, req search.Request) (*database.SearchJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*database.SearchJob, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*database.SearchJob, error)
	JobRecords(ctx context.Context, id uuid.UUID) ([]models.Record, error)
	Stats(ctx context.Context) (*database.JobStats, error)
}

// Searcher runs synchronous searches.
type Searcher interface {
	Run(ctx context.Context, req search.Request) (*spider.Result, error)
	Sources() []string
}

// Backlog reports the outbox state for the health check.
type Backlog interface {
	Backlog(ctx context.Context) (database.OutboxCounts, error)
}

type Handlers struct {
	searcher      Searcher
	jobs          JobService
	backlog       Backlog
	searchTimeout time.Duration
	logger        *slog.Logger
}

// NewHandlers wires the handlers. jobs and backlog may be nil, in which
// case the job endpoints answer 503 and the health check skips the outbox.
func NewHandlers(searcher Searcher, jobs JobService, backlog Backlog, searchTimeout time.Duration, logger *slog.Logger) *Handlers {
	return &Handlers{
		searcher:      searcher,
		jobs:          jobs,
		backlog:       backlog,
		searchTimeout: searchTimeout,
		logger:        logger.With("component", "api"),
	}
}

// CreateSearchRequest is the body of both search endpoints.
type CreateSearchRequest struct {
	Source  string `json:"source"`
	Keyword string `json:"keyword"`
	Limit   int    `json:"limit"`
}

type CreateSearchResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SearchResponse is the body returned by a synchronous search.
type SearchResponse struct {
	Source       string               `json:"source"`
	Keyword      string               `json:"keyword"`
	Count        int                  `json:"count"`
	Records      []models.Record      `json:"records"`
	Diagnostics  []*models.Diagnostic `json:"diagnostics"`
	Stats        spider.Stats         `json:"stats"`
	StoppedEarly bool                 `json:"stopped_early"`
	DurationMS   int64                `json:"duration_ms"`
	Partial      bool                 `json:"partial,omitempty"`
}

func decodeSearch(r *http.Request) (search.Request, error) {
	var body CreateSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return search.Request{}, err
	}
	return search.Request{Source: body.Source, Keyword: body.Keyword, Limit: body.Limit}, nil
}

// CreateSearch queues a search job.
func (h *Handlers) CreateSearch(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "job store not configured")
		return
	}

	req, err := decodeSearch(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req)
	if errors.Is(err, search.ErrInvalidRequest) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateSearchResponse{
		JobID:   job.ID.String(),
		Status:  job.Status,
		Message: "search queued",
	})
}

// RunSearch runs a search in the request and returns its records.
func (h *Handlers) RunSearch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSearch(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	if h.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.searchTimeout)
		defer cancel()
	}

	res, err := h.searcher.Run(ctx, req)
	if errors.Is(err, search.ErrInvalidRequest) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res == nil {
		h.logger.Error("search failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	resp := SearchResponse{
		Source:       res.Source,
		Keyword:      res.Keyword,
		Count:        len(res.Records),
		Records:      res.Records,
		Diagnostics:  res.Diagnostics,
		Stats:        res.Stats,
		StoppedEarly: res.StoppedEarly,
		DurationMS:   res.Duration.Milliseconds(),
		Partial:      err != nil,
	}
	if resp.Records == nil {
		resp.Records = []models.Record{}
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []*models.Diagnostic{}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "job store not configured")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) GetSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if errors.Is(err, database.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "job_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListSearches(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "job store not configured")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	jobs, err := h.jobs.ListJobs(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*database.SearchJob{}
	}

	h.respondJSON(w, http.StatusOK, jobs)
}

// GetSearchRecords returns a job's records as JSON, or as a CSV / JSON
// Lines feed when ?format= asks for one.
func (h *Handlers) GetSearchRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != export.FormatCSV && format != export.FormatJSONL {
		h.respondError(w, http.StatusBadRequest, "unsupported format")
		return
	}

	records, err := h.jobs.JobRecords(r.Context(), id)
	if errors.Is(err, database.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job records", "job_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get records")
		return
	}

	switch format {
	case export.FormatCSV, export.FormatJSONL:
		contentType := "text/csv"
		if format == export.FormatJSONL {
			contentType = "application/x-ndjson"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		if err := export.Write(w, format, records); err != nil {
			h.logger.Error("failed to write feed", "job_id", id, "error", err)
		}
	default:
		h.respondJSON(w, http.StatusOK, records)
	}
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "job store not configured")
		return
	}

	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string][]string{"sources": h.searcher.Sources()})
}

// Health reports ok unless the outbox is backing up.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.backlog != nil {
		counts, err := h.backlog.Backlog(r.Context())
		switch {
		case err != nil:
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		case counts.DeadLetter > 100:
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		case counts.Pending > 1000:
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if err == nil {
			health["outbox"] = counts
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
