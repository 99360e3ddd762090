// Package events publishes search job outcomes through the transactional
// outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/search-spider/internal/database"
)

type EventType string

const (
	EventTypeSearchCompleted EventType = "SEARCH_COMPLETED"
	EventTypeSearchFailed    EventType = "SEARCH_FAILED"

	aggregateType = "search_job"
)

// SearchPayload is the body of both search events.
type SearchPayload struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	Timestamp    time.Time      `json:"timestamp"`
	JobID        string         `json:"job_id"`
	Source       string         `json:"source"`
	Keyword      string         `json:"keyword"`
	Limit        int            `json:"limit"`
	RecordCount  int            `json:"record_count"`
	PagesPlanned int            `json:"pages_planned"`
	StoppedEarly bool           `json:"stopped_early"`
	Diagnostics  map[string]int `json:"diagnostics,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// OutboxWriter is the part of the outbox repository the publisher uses.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// TxRunner runs fn in a transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type Publisher struct {
	db     TxRunner
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

// NewPublisher writes events for stream; an empty stream uses the outbox
// default.
func NewPublisher(db TxRunner, outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// Publish writes the event in its own transaction.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, payload *SearchPayload) error {
	err := p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.PublishWithTx(ctx, tx, eventType, payload)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// PublishWithTx writes the event as part of the caller's transaction, so
// it is only relayed if the rest of the transaction commits.
func (p *Publisher) PublishWithTx(ctx context.Context, tx pgx.Tx, eventType EventType, payload *SearchPayload) error {
	event, err := p.build(eventType, payload)
	if err != nil {
		return err
	}
	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"job_id", payload.JobID,
		"outbox_id", event.ID,
	)
	return nil
}

func (p *Publisher) build(eventType EventType, payload *SearchPayload) (*database.OutboxEvent, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("failed to build event: job id is required")
	}
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	payload.EventType = string(eventType)
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   payload.JobID,
		EventType:     string(eventType),
		Payload:       data,
		TargetStream:  p.stream,
	}, nil
}
