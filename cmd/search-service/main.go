package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/search-spider/internal/api"
	"github.com/maltedev/search-spider/internal/config"
	"github.com/maltedev/search-spider/internal/database"
	"github.com/maltedev/search-spider/internal/diagnostics"
	"github.com/maltedev/search-spider/internal/events"
	"github.com/maltedev/search-spider/internal/fetch"
	"github.com/maltedev/search-spider/internal/jobs"
	"github.com/maltedev/search-spider/internal/queue"
	"github.com/maltedev/search-spider/internal/search"
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

	db, err := database.New(ctx, database.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	outbox := database.NewOutboxRepository(db)
	relay := database.NewRelay(outbox, redisClient, log, database.RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("relay stopped with error", "error", err)
		}
	}()

	fetcher, err := fetch.NewStack(cfg.Scraper, log)
	if err != nil {
		log.Error("failed to set up fetchers", "error", err)
		os.Exit(1)
	}
	defer fetcher.Close()

	sink, err := diagnostics.FromConfig(cfg.Diagnostics, log)
	if err != nil {
		log.Error("failed to set up diagnostics", "error", err)
		os.Exit(1)
	}

	searchService := search.NewService(fetcher, sink, cfg.Spider, log)
	publisher := events.NewPublisher(db, outbox, cfg.Redis.Stream, log)

	q := queue.NewInMemoryQueue()
	jobManager := jobs.NewManager(database.NewJobRepository(db), q, searchService, publisher, log)

	if n, err := jobManager.Requeue(ctx); err != nil {
		log.Error("failed to requeue pending jobs", "error", err)
	} else if n > 0 {
		log.Info("requeued pending jobs", "count", n)
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := jobManager.StartWorkers(ctx, cfg.Scraper.Workers); err != nil {
			log.Error("job workers stopped with error", "error", err)
		}
	}()

	handlers := api.NewHandlers(searchService, jobManager, relay, cfg.Server.SearchTimeout, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handlers, api.RouterOptions{}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "port", cfg.Server.Port, "sources", searchService.Sources())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		cancel()
	}

	q.Close()
	<-workersDone
	log.Info("server stopped")
}
