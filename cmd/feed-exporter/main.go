package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/search-spider/internal/config"
	"github.com/maltedev/search-spider/internal/database"
	"github.com/maltedev/search-spider/internal/feeds"
	"github.com/maltedev/search-spider/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis", "addr", cfg.Redis.Addr)

	db, err := database.New(ctx, database.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: 4,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	consumer := feeds.NewConsumer(rdb, database.NewJobRepository(db), feeds.Config{
		Stream:   cfg.Redis.Stream,
		Group:    cfg.Export.Group,
		Consumer: cfg.Export.Consumer,
		Dir:      cfg.Export.Dir,
		Format:   cfg.Export.Format,
	}, log)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("consumer stopped")
}
