// Package jobs runs searches asynchronously: the API creates jobs, a worker
// pool runs them and stores their records.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/search-spider/internal/database"
	"github.com/maltedev/search-spider/internal/events"
	"github.com/maltedev/search-spider/internal/models"
	"github.com/maltedev/search-spider/internal/queue"
	"github.com/maltedev/search-spider/internal/search"
	"github.com/maltedev/search-spider/internal/spider"
)

var ErrJobNotFound = database.ErrJobNotFound

// Store persists jobs and their records.
type Store interface {
	CreateJob(ctx context.Context, job *database.SearchJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*database.SearchJob, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*database.SearchJob, error)
	PendingJobs(ctx context.Context) ([]*database.SearchJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, records []models.Record, outcome database.JobOutcome, within func(pgx.Tx) error) error
	Fail(ctx context.Context, id uuid.UUID, cause error, within func(pgx.Tx) error) error
	JobRecords(ctx context.Context, id uuid.UUID) ([]models.Record, error)
	Stats(ctx context.Context) (*database.JobStats, error)
}

// Searcher runs one search.
type Searcher interface {
	Normalize(req search.Request) (search.Request, error)
	Run(ctx context.Context, req search.Request) (*spider.Result, error)
}

// Publisher writes job events inside the job's closing transaction.
type Publisher interface {
	PublishWithTx(ctx context.Context, tx pgx.Tx, eventType events.EventType, payload *events.SearchPayload) error
}

type Manager struct {
	store     Store
	queue     queue.Queue
	searcher  Searcher
	publisher Publisher
	logger    *slog.Logger
}

func NewManager(store Store, q queue.Queue, searcher Searcher, publisher Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		queue:     q,
		searcher:  searcher,
		publisher: publisher,
		logger:    logger.With("component", "job_manager"),
	}
}

// CreateJob validates req, stores a pending job and queues it.
func (m *Manager) CreateJob(ctx context.Context, req search.Request) (*database.SearchJob, error) {
	req, err := m.searcher.Normalize(req)
	if err != nil {
		return nil, err
	}

	job := &database.SearchJob{
		Source:  req.Source,
		Keyword: req.Keyword,
		Limit:   req.Limit,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := m.enqueue(job); err != nil {
		return nil, err
	}

	m.logger.Info("job created", "id", job.ID, "source", job.Source, "keyword", job.Keyword, "limit", job.Limit)
	return job, nil
}

func (m *Manager) enqueue(job *database.SearchJob) error {
	err := m.queue.Push(&queue.Task{
		JobID:     job.ID.String(),
		Source:    job.Source,
		Keyword:   job.Keyword,
		Limit:     job.Limit,
		CreatedAt: job.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to queue job: %w", err)
	}
	return nil
}

// Requeue queues every job still pending in the store. It is called once
// at startup so jobs accepted before a restart are not lost.
func (m *Manager) Requeue(ctx context.Context) (int, error) {
	pending, err := m.store.PendingJobs(ctx)
	if err != nil {
		return 0, err
	}
	for _, job := range pending {
		if err := m.enqueue(job); err != nil {
			return 0, err
		}
	}
	if len(pending) > 0 {
		m.logger.Info("requeued pending jobs", "count", len(pending))
	}
	return len(pending), nil
}

func (m *Manager) GetJob(ctx context.Context, id uuid.UUID) (*database.SearchJob, error) {
	return m.store.GetJob(ctx, id)
}

func (m *Manager) ListJobs(ctx context.Context, limit, offset int) ([]*database.SearchJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return m.store.ListJobs(ctx, limit, offset)
}

// JobRecords returns the stored records, or ErrJobNotFound.
func (m *Manager) JobRecords(ctx context.Context, id uuid.UUID) ([]models.Record, error) {
	if _, err := m.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return m.store.JobRecords(ctx, id)
}

func (m *Manager) Stats(ctx context.Context) (*database.JobStats, error) {
	return m.store.Stats(ctx)
}

// process runs one queued job to completion.
func (m *Manager) process(ctx context.Context, task *queue.Task) error {
	id, err := uuid.Parse(task.JobID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", task.JobID, err)
	}
	logger := m.logger.With("job_id", task.JobID)

	if err := m.store.MarkRunning(ctx, id); err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			logger.Warn("job is no longer pending, skipping")
			return nil
		}
		return err
	}

	req := search.Request{Source: task.Source, Keyword: task.Keyword, Limit: task.Limit}
	res, runErr := m.searcher.Run(ctx, req)

	payload := &events.SearchPayload{
		JobID:   task.JobID,
		Source:  task.Source,
		Keyword: task.Keyword,
		Limit:   task.Limit,
	}

	if runErr != nil {
		logger.Error("job failed", "error", runErr)
		payload.Error = runErr.Error()
		if res != nil {
			payload.RecordCount = len(res.Records)
		}
		// The worker context may already be cancelled; closing the job
		// must still reach the store.
		closeCtx := context.WithoutCancel(ctx)
		return m.store.Fail(closeCtx, id, runErr, func(tx pgx.Tx) error {
			return m.publisher.PublishWithTx(closeCtx, tx, events.EventTypeSearchFailed, payload)
		})
	}

	kinds := make(map[string]int)
	for _, d := range res.Diagnostics {
		kinds[string(d.Kind)]++
	}
	payload.RecordCount = len(res.Records)
	payload.PagesPlanned = res.Stats.PagesPlanned
	payload.StoppedEarly = res.StoppedEarly
	payload.Diagnostics = kinds

	outcome := database.JobOutcome{
		PagesPlanned:   res.Stats.PagesPlanned,
		RequestsFailed: res.Stats.Failed,
		Diagnostics:    len(res.Diagnostics),
		StoppedEarly:   res.StoppedEarly,
	}
	err = m.store.Complete(ctx, id, res.Records, outcome, func(tx pgx.Tx) error {
		return m.publisher.PublishWithTx(ctx, tx, events.EventTypeSearchCompleted, payload)
	})
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	logger.Info("job completed", "records", len(res.Records), "diagnostics", len(res.Diagnostics))
	return nil
}
