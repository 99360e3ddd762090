package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS search_jobs (
	id              UUID PRIMARY KEY,
	source          TEXT NOT NULL,
	keyword         TEXT NOT NULL,
	record_limit    INTEGER NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	records_found   INTEGER NOT NULL DEFAULT 0,
	pages_planned   INTEGER NOT NULL DEFAULT 0,
	requests_failed INTEGER NOT NULL DEFAULT 0,
	diagnostics     INTEGER NOT NULL DEFAULT 0,
	stopped_early   BOOLEAN NOT NULL DEFAULT FALSE,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_search_jobs_status ON search_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS search_records (
	job_id       UUID NOT NULL REFERENCES search_jobs (id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	source       TEXT NOT NULL,
	keyword      TEXT NOT NULL,
	page         INTEGER NOT NULL,
	position     INTEGER NOT NULL,
	url          TEXT NOT NULL,
	name         TEXT,
	brand        TEXT,
	price        DOUBLE PRECISION,
	currency     TEXT,
	rating       DOUBLE PRECISION,
	review_count INTEGER,
	image_url    TEXT,
	description  TEXT,
	scraped_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, seq)
);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at);
`

// Migrate creates the tables the service needs if they are missing.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
