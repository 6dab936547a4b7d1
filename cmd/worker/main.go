// Package main implements the queue worker process: it connects to the
// database, runs migrations, assembles the queue engine, and serves the ops
// HTTP endpoint alongside the worker pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/advisoros/taskqueue/internal/api"
	"github.com/advisoros/taskqueue/internal/config"
	"github.com/advisoros/taskqueue/internal/events"
	"github.com/advisoros/taskqueue/internal/platform/logger"
	"github.com/advisoros/taskqueue/internal/platform/postgres"
	"github.com/advisoros/taskqueue/internal/queue"
	"github.com/advisoros/taskqueue/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker exited with error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)
	appLogger.Info("configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.Int("worker_count", cfg.Queue.WorkerCount),
		slog.Any("queue_names", cfg.Queue.QueueNames))

	db, err := setupDatabase(cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			appLogger.Error("failed to close database", slog.String("error", closeErr.Error()))
		}
	}()

	if err := postgres.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Stores
	itemStore := postgres.NewPostgresQueueItemStore(db, appLogger)
	taskStore := postgres.NewPostgresWorkflowTaskStore(db, appLogger)

	// Engine
	registry := queue.NewRegistry()
	enqueuer := queue.NewEnqueuer(itemStore, appLogger)
	dequeuer := queue.NewDequeuer(itemStore, cfg.Queue.LeaseDuration, appLogger)
	policy := queue.NewRetryPolicy(nil)
	dispatcher := queue.NewDispatcher(itemStore, registry, policy, appLogger)
	sweeper := queue.NewSweeper(itemStore, appLogger)

	// Workflow dependency resolution, fed by step completion events.
	emitter := events.NewInMemoryEventEmitter(appLogger)
	resolver := workflow.NewResolver(taskStore, enqueuer, emitter, workflow.DefaultQueueName, appLogger)
	emitter.RegisterHandler(resolver)

	registerProcessors(registry, resolver, appLogger)

	runner := queue.NewRunner(dequeuer, dispatcher, sweeper, queue.RunnerConfig{
		WorkerCount:        cfg.Queue.WorkerCount,
		QueueNames:         cfg.Queue.QueueNames,
		BatchSize:          cfg.Queue.DequeueBatchSize,
		PollInterval:       cfg.Queue.PollInterval,
		ReaperInterval:     cfg.Queue.ReaperInterval,
		RetrySweepInterval: cfg.Queue.RetrySweepInterval,
	}, appLogger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(api.NewStatsHandler(itemStore)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(ctx)
	})

	g.Go(func() error {
		appLogger.Info("ops server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLogger.Info("worker shut down cleanly")
	return nil
}
