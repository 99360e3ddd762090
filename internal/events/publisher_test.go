package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/search-spider/internal/database"
)

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

// fakeTx runs fn without a real transaction and remembers what it returned.
type fakeTx struct {
	calls int
	err   error
}

func (f *fakeTx) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	f.calls++
	f.err = fn(nil)
	return f.err
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	outbox := new(MockOutbox)
	tx := &fakeTx{}
	p := NewPublisher(tx, outbox, "stream:test", slog.Default())

	var captured *database.OutboxEvent
	outbox.On("InsertWithTx", ctx, mock.Anything, mock.AnythingOfType("*database.OutboxEvent")).
		Run(func(args mock.Arguments) { captured = args.Get(2).(*database.OutboxEvent) }).
		Return(nil)

	payload := &SearchPayload{
		JobID:       "6c1f0d6e-8c5a-4df1-9d2b-2f1d0c9a1e11",
		Source:      "walmart",
		Keyword:     "gaming laptop",
		Limit:       25,
		RecordCount: 25,
		Diagnostics: map[string]int{"no_match": 1},
	}
	require.NoError(t, p.Publish(ctx, EventTypeSearchCompleted, payload))

	assert.Equal(t, 1, tx.calls)
	require.NotNil(t, captured)
	assert.Equal(t, "search_job", captured.AggregateType)
	assert.Equal(t, payload.JobID, captured.AggregateID)
	assert.Equal(t, "SEARCH_COMPLETED", captured.EventType)
	assert.Equal(t, "stream:test", captured.TargetStream)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(captured.Payload, &decoded))
	assert.Equal(t, "gaming laptop", decoded["keyword"])
	assert.Equal(t, "SEARCH_COMPLETED", decoded["event_type"])
	assert.NotEmpty(t, decoded["event_id"])
	assert.NotEmpty(t, decoded["timestamp"])
	assert.NotContains(t, decoded, "error")

	outbox.AssertExpectations(t)
}

func TestPublisher_FailedEvent(t *testing.T) {
	ctx := context.Background()
	outbox := new(MockOutbox)
	p := NewPublisher(&fakeTx{}, outbox, "", slog.Default())

	outbox.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(e *database.OutboxEvent) bool {
		return e.EventType == "SEARCH_FAILED" && e.TargetStream == ""
	})).Return(nil)

	payload := &SearchPayload{JobID: "job-1", Source: "amazon", Keyword: "usb hub", Error: "blocked"}
	require.NoError(t, p.PublishWithTx(ctx, nil, EventTypeSearchFailed, payload))
	assert.Equal(t, "SEARCH_FAILED", payload.EventType)

	outbox.AssertExpectations(t)
}

func TestPublisher_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing job id", func(t *testing.T) {
		outbox := new(MockOutbox)
		p := NewPublisher(&fakeTx{}, outbox, "", slog.Default())

		err := p.Publish(ctx, EventTypeSearchCompleted, &SearchPayload{Source: "walmart"})
		require.Error(t, err)
		outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("outbox failure rolls back", func(t *testing.T) {
		outbox := new(MockOutbox)
		tx := &fakeTx{}
		p := NewPublisher(tx, outbox, "", slog.Default())
		outbox.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

		err := p.Publish(ctx, EventTypeSearchCompleted, &SearchPayload{JobID: "job-2"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish event")
		assert.Error(t, tx.err, "the transaction saw the failure")
	})
}
