package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/search-spider/internal/models"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// SearchJob is one queued or finished search run.
type SearchJob struct {
	ID             uuid.UUID  `json:"id"`
	Source         string     `json:"source"`
	Keyword        string     `json:"keyword"`
	Limit          int        `json:"limit"`
	Status         string     `json:"status"`
	RecordsFound   int        `json:"records_found"`
	PagesPlanned   int        `json:"pages_planned"`
	RequestsFailed int        `json:"requests_failed"`
	Diagnostics    int        `json:"diagnostics"`
	StoppedEarly   bool       `json:"stopped_early"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// JobOutcome is what a finished run writes back to its job row.
type JobOutcome struct {
	PagesPlanned   int
	RequestsFailed int
	Diagnostics    int
	StoppedEarly   bool
}

// JobStats summarizes all jobs.
type JobStats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	TotalRecords  int64   `json:"total_records"`
	SuccessRate   float64 `json:"success_rate"`
}

type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, source, keyword, record_limit, status,
	records_found, pages_planned, requests_failed, diagnostics, stopped_early,
	error, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*SearchJob, error) {
	job := &SearchJob{}
	err := row.Scan(
		&job.ID, &job.Source, &job.Keyword, &job.Limit, &job.Status,
		&job.RecordsFound, &job.PagesPlanned, &job.RequestsFailed, &job.Diagnostics, &job.StoppedEarly,
		&job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	return job, err
}

// CreateJob inserts a pending job, assigning its ID when unset.
func (r *JobRepository) CreateJob(ctx context.Context, job *SearchJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = JobStatusPending
	job.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO search_jobs (id, source, keyword, record_limit, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.pool.Exec(ctx, query,
		job.ID, job.Source, job.Keyword, job.Limit, job.Status, job.CreatedAt); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*SearchJob, error) {
	query := `SELECT` + jobColumns + ` FROM search_jobs WHERE id = $1`

	job, err := scanJob(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the newest jobs first.
func (r *JobRepository) ListJobs(ctx context.Context, limit, offset int) ([]*SearchJob, error) {
	query := `SELECT` + jobColumns + `
		FROM search_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	return r.queryJobs(ctx, query, limit, offset)
}

// PendingJobs returns jobs that were queued but never started, oldest
// first, so a restarted service can pick them up again.
func (r *JobRepository) PendingJobs(ctx context.Context) ([]*SearchJob, error) {
	query := `SELECT` + jobColumns + `
		FROM search_jobs
		WHERE status = $1
		ORDER BY created_at`

	return r.queryJobs(ctx, query, JobStatusPending)
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*SearchJob, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*SearchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return jobs, nil
}

// MarkRunning moves a pending job to running. It returns ErrJobNotFound
// when no pending job has that ID.
func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE search_jobs
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4`

	tag, err := r.db.pool.Exec(ctx, query, JobStatusRunning, time.Now().UTC(), id, JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Complete stores the records of a finished run and closes the job in one
// transaction. within runs inside the same transaction, e.g. to write an
// outbox event.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, records []models.Record, outcome JobOutcome, within func(pgx.Tx) error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if len(records) > 0 {
			if _, err := tx.CopyFrom(ctx,
				pgx.Identifier{"search_records"},
				recordColumns,
				pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
					return recordRow(id, i, records[i]), nil
				}),
			); err != nil {
				return fmt.Errorf("failed to copy records: %w", err)
			}
		}

		query := `
			UPDATE search_jobs
			SET status = $1, completed_at = $2, records_found = $3,
			    pages_planned = $4, requests_failed = $5, diagnostics = $6, stopped_early = $7
			WHERE id = $8`

		if _, err := tx.Exec(ctx, query,
			JobStatusCompleted, time.Now().UTC(), len(records),
			outcome.PagesPlanned, outcome.RequestsFailed, outcome.Diagnostics, outcome.StoppedEarly,
			id,
		); err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}

		if within != nil {
			return within(tx)
		}
		return nil
	})
}

// Fail closes a job with an error message.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, cause error, within func(pgx.Tx) error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE search_jobs
			SET status = $1, completed_at = $2, error = $3
			WHERE id = $4`

		if _, err := tx.Exec(ctx, query, JobStatusFailed, time.Now().UTC(), cause.Error(), id); err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		if within != nil {
			return within(tx)
		}
		return nil
	})
}

var recordColumns = []string{
	"job_id", "seq", "source", "keyword", "page", "position", "url",
	"name", "brand", "price", "currency", "rating", "review_count",
	"image_url", "description", "scraped_at",
}

func recordRow(jobID uuid.UUID, seq int, rec models.Record) []any {
	return []any{
		jobID, seq, rec.Source, rec.Keyword, rec.Page, rec.Position, rec.URL,
		rec.Name, rec.Brand, rec.Price, rec.Currency, rec.Rating, rec.ReviewCount,
		rec.ImageURL, rec.Description, rec.ScrapedAt,
	}
}

// JobRecords returns the records of a job in collection order.
func (r *JobRepository) JobRecords(ctx context.Context, id uuid.UUID) ([]models.Record, error) {
	query := `
		SELECT source, keyword, page, position, url,
		       name, brand, price, currency, rating, review_count,
		       image_url, description, scraped_at
		FROM search_records
		WHERE job_id = $1
		ORDER BY seq`

	rows, err := r.db.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job records: %w", err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(
			&rec.Source, &rec.Keyword, &rec.Page, &rec.Position, &rec.URL,
			&rec.Name, &rec.Brand, &rec.Price, &rec.Currency, &rec.Rating, &rec.ReviewCount,
			&rec.ImageURL, &rec.Description, &rec.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

func (r *JobRepository) Stats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(SUM(records_found), 0)
		FROM search_jobs`

	err := r.db.pool.QueryRow(ctx, query,
		JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed,
	).Scan(
		&stats.TotalJobs, &stats.PendingJobs, &stats.RunningJobs,
		&stats.CompletedJobs, &stats.FailedJobs, &stats.TotalRecords,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if finished := stats.CompletedJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}
	return stats, nil
}
