package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/advisoros/taskqueue/internal/domain"
)

// RunnerConfig holds configuration for the engine runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers pull and process items.
	WorkerCount int

	// QueueNames lists the logical queues this runner pulls from.
	QueueNames []string

	// OrganizationID scopes the runner to one tenant; uuid.Nil serves all.
	OrganizationID uuid.UUID

	// BatchSize is the limit passed to each dequeue call.
	BatchSize int

	// PollInterval is how long an idle worker waits after an empty dequeue.
	PollInterval time.Duration

	// ReaperInterval defines how often expired leases are swept.
	ReaperInterval time.Duration

	// RetrySweepInterval defines how often due retries are promoted.
	RetrySweepInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:        2,
		QueueNames:         []string{"default"},
		BatchSize:          10,
		PollInterval:       5 * time.Second,
		ReaperInterval:     time.Minute,
		RetrySweepInterval: time.Minute,
	}
}

// Runner drives the queue engine inside one worker process: a pool of workers
// that dequeue and dispatch items, plus the two background sweeps. Multiple
// runner processes can share a store; correctness comes from the store's
// conditional updates, not from anything in here.
type Runner struct {
	dequeuer   *Dequeuer
	dispatcher *Dispatcher
	sweeper    *Sweeper
	config     RunnerConfig
	logger     *slog.Logger
}

// NewRunner assembles a Runner from the engine components.
// Zero config fields are replaced with defaults.
func NewRunner(
	dequeuer *Dequeuer,
	dispatcher *Dispatcher,
	sweeper *Sweeper,
	config RunnerConfig,
	log *slog.Logger,
) *Runner {
	defaults := DefaultRunnerConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if len(config.QueueNames) == 0 {
		config.QueueNames = defaults.QueueNames
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ReaperInterval <= 0 {
		config.ReaperInterval = defaults.ReaperInterval
	}
	if config.RetrySweepInterval <= 0 {
		config.RetrySweepInterval = defaults.RetrySweepInterval
	}
	if log == nil {
		log = slog.Default()
	}

	return &Runner{
		dequeuer:   dequeuer,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		config:     config,
		logger:     log.With(slog.String("component", "runner")),
	}
}

// Run starts the worker pool and both sweeps and blocks until the context is
// cancelled. It returns the first non-cancellation error from any loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting queue runner",
		slog.Int("worker_count", r.config.WorkerCount),
		slog.Any("queue_names", r.config.QueueNames))

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < r.config.WorkerCount; i++ {
		workerID := i
		g.Go(func() error {
			return r.workerLoop(ctx, workerID)
		})
	}

	g.Go(func() error {
		return r.reaperLoop(ctx)
	})

	g.Go(func() error {
		return r.retrySweepLoop(ctx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.Info("queue runner stopped")
	return nil
}

// workerLoop repeatedly dequeues a batch and dispatches each item. Empty
// batches and store errors both back off for PollInterval; a store outage
// must not turn into a hot loop.
func (r *Runner) workerLoop(ctx context.Context, workerID int) error {
	log := r.logger.With(slog.Int("worker_id", workerID))
	log.Debug("starting worker")

	for {
		select {
		case <-ctx.Done():
			log.Debug("stopping worker")
			return ctx.Err()
		default:
		}

		items, err := r.dequeuer.Dequeue(
			ctx,
			r.config.QueueNames,
			r.config.OrganizationID,
			r.config.BatchSize,
		)
		if err != nil {
			log.Error("dequeue failed", slog.String("error", err.Error()))
			if waitErr := sleepCtx(ctx, r.config.PollInterval); waitErr != nil {
				return waitErr
			}
			continue
		}

		if len(items) == 0 {
			if waitErr := sleepCtx(ctx, r.config.PollInterval); waitErr != nil {
				return waitErr
			}
			continue
		}

		for _, item := range items {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := r.dispatcher.ProcessItem(ctx, item.ID); err != nil {
				if errors.Is(err, domain.ErrInvalidState) {
					// Already resolved or reclaimed elsewhere; nothing to do.
					continue
				}
				log.Error("process item failed",
					slog.String("error", err.Error()),
					slog.String("item_id", item.ID.String()))
			}
		}
	}
}

// reaperLoop periodically reclaims expired leases.
func (r *Runner) reaperLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.sweeper.CleanupExpiredLocks(ctx); err != nil {
				r.logger.Error("lease reaper sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// retrySweepLoop periodically promotes due retries back to pending.
func (r *Runner) retrySweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.config.RetrySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.sweeper.RetryFailedItems(ctx, r.config.OrganizationID, ""); err != nil {
				r.logger.Error("retry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
