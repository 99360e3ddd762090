// Package feeds turns completed search jobs into export files by reading
// search events from the Redis stream the outbox relay publishes to.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/search-spider/internal/events"
	"github.com/maltedev/search-spider/internal/export"
	"github.com/maltedev/search-spider/internal/models"
)

// StreamClient is the part of the Redis client the consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// RecordStore loads the records of a finished job.
type RecordStore interface {
	JobRecords(ctx context.Context, id uuid.UUID) ([]models.Record, error)
}

type Config struct {
	Stream   string
	Group    string
	Consumer string
	Dir      string
	Format   string
	Block    time.Duration
	Count    int64
}

type Consumer struct {
	client StreamClient
	store  RecordStore
	cfg    Config
	logger *slog.Logger
}

func NewConsumer(client StreamClient, store RecordStore, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.Group == "" {
		cfg.Group = "feed-exporter-group"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "feed-exporter-1"
	}
	if cfg.Format == "" {
		cfg.Format = export.FormatCSV
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count == 0 {
		cfg.Count = 10
	}
	return &Consumer{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "feed_consumer"),
	}
}

// Run reads the stream until ctx is cancelled. Messages that fail stay
// pending in the group and are not acknowledged.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.consume(ctx, msg)
			}
		}
	}
}

func (c *Consumer) consume(ctx context.Context, msg redis.XMessage) {
	path, err := c.Handle(ctx, msg)
	if err != nil {
		c.logger.Error("failed to process message", "id", msg.ID, "error", err)
		return
	}
	if path != "" {
		c.logger.Info("feed written", "id", msg.ID, "path", path)
	}
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
	}
}

// envelope is the relay's "data" field.
type envelope struct {
	Payload events.SearchPayload `json:"payload"`
}

// Handle writes the feed for one SEARCH_COMPLETED message and returns its
// path. Other event types are skipped with an empty path. Feeds are named
// after the job, so a redelivered message overwrites its own file.
func (c *Consumer) Handle(ctx context.Context, msg redis.XMessage) (string, error) {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(events.EventTypeSearchCompleted) {
		return "", nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return "", fmt.Errorf("missing data in message %s", msg.ID)
	}

	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return "", fmt.Errorf("failed to parse event data: %w", err)
	}

	jobID, err := uuid.Parse(env.Payload.JobID)
	if err != nil {
		return "", fmt.Errorf("invalid job id %q: %w", env.Payload.JobID, err)
	}

	records, err := c.store.JobRecords(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to load records: %w", err)
	}

	path := FeedPath(c.cfg.Dir, env.Payload.Source, jobID, c.cfg.Format)
	if err := export.WriteFile(path, c.cfg.Format, records); err != nil {
		return "", err
	}
	return path, nil
}

// FeedPath is <dir>/<source>/<job id>.<format>.
func FeedPath(dir, source string, jobID uuid.UUID, format string) string {
	if source == "" {
		source = "unknown"
	}
	return filepath.Join(dir, source, jobID.String()+"."+format)
}
