package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/platform/logger"
	"github.com/advisoros/taskqueue/internal/store"
)

// Dispatcher invokes the registered processor for a leased item and records
// the outcome on the item.
//
// Processor-level failures are recorded on the item and never returned to the
// caller; one bad task must not crash a worker's processing loop. Only store
// failures propagate as errors.
type Dispatcher struct {
	store    store.QueueItemStore
	registry *Registry
	policy   RetryPolicy
	logger   *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewDispatcher creates a Dispatcher over the given store and registry.
// If logger is nil, a default logger will be used.
func NewDispatcher(
	s store.QueueItemStore,
	registry *Registry,
	policy RetryPolicy,
	log *slog.Logger,
) *Dispatcher {
	if s == nil {
		panic("store cannot be nil")
	}
	if registry == nil {
		panic("registry cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:    s,
		registry: registry,
		policy:   policy,
		logger:   log.With(slog.String("component", "dispatcher")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessItem loads the item, requires it to be processing, runs its
// processor, and resolves the item to completed, failed_retryable, or
// failed_permanent.
//
// Returns domain.ErrInvalidState (without mutating anything) when the item is
// not processing — the lease was already resolved or reclaimed elsewhere, and
// running the processor now could double-process. Store read/write failures
// are returned to the caller; processor failures are not.
func (d *Dispatcher) ProcessItem(ctx context.Context, itemID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		slog.String("item_id", itemID.String()))

	item, err := d.store.GetByID(ctx, itemID)
	if err != nil {
		log.Error("failed to load queue item", slog.String("error", err.Error()))
		return fmt.Errorf("failed to load queue item: %w", err)
	}

	if item.Status != domain.QueueItemStatusProcessing {
		log.Warn("item is not processing, skipping",
			slog.String("status", string(item.Status)))
		return fmt.Errorf("%w: item %s has status %q, expected %q",
			domain.ErrInvalidState, itemID, item.Status, domain.QueueItemStatusProcessing)
	}

	log = log.With(
		slog.String("item_type", item.ItemType),
		slog.String("queue_name", item.QueueName),
		slog.Int("attempt", item.Attempts))

	processor, ok := d.registry.Get(item.ItemType)
	if !ok {
		// A missing registration cannot heal by retrying on this deployment.
		log.Error("no processor registered for item type")
		return d.handleFailure(ctx, log, item, domain.ErrNoHandler, false)
	}

	log.Info("processing item")

	result := d.invoke(ctx, processor, item)

	if result.Success {
		if err := d.store.MarkCompleted(ctx, item.ID, result.Payload, d.now()); err != nil {
			if errors.Is(err, store.ErrUpdateFailed) {
				// The lease was reclaimed while the processor ran; another
				// worker owns the item now. Dropping the outcome is the
				// at-least-once contract.
				log.Warn("lease lost before completion could be recorded")
				return nil
			}
			log.Error("failed to mark item completed", slog.String("error", err.Error()))
			return fmt.Errorf("failed to mark item completed: %w", err)
		}
		log.Info("item completed")
		return nil
	}

	procErr := result.Err
	if procErr == nil {
		procErr = errors.New("processor reported failure without error")
	}
	return d.handleFailure(ctx, log, item, procErr, result.Retry)
}

// invoke runs the processor, converting a panic into a retryable failure so a
// buggy handler cannot take the worker down.
func (d *Dispatcher) invoke(ctx context.Context, p Processor, item *domain.QueueItem) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Success: false,
				Err:     fmt.Errorf("processor panicked: %v", r),
				Retry:   true,
			}
		}
	}()
	return p.Process(ctx, item)
}

// handleFailure applies the retry policy: failed_retryable with a backoff-due
// timestamp while attempts remain and retry was requested, failed_permanent
// otherwise.
func (d *Dispatcher) handleFailure(
	ctx context.Context,
	log *slog.Logger,
	item *domain.QueueItem,
	procErr error,
	retryRequested bool,
) error {
	now := d.now()

	if d.policy.ShouldRetry(retryRequested, item.Attempts, item.MaxAttempts) {
		nextRetryAt := now.Add(d.policy.BackoffFor(item.Attempts))
		if err := d.store.MarkFailedRetryable(ctx, item.ID, procErr.Error(), nextRetryAt); err != nil {
			if errors.Is(err, store.ErrUpdateFailed) {
				log.Warn("lease lost before retryable failure could be recorded")
				return nil
			}
			log.Error("failed to mark item failed_retryable", slog.String("error", err.Error()))
			return fmt.Errorf("failed to mark item failed_retryable: %w", err)
		}
		log.Warn("item failed, retry scheduled",
			slog.String("error", procErr.Error()),
			slog.Time("next_retry_at", nextRetryAt))
		return nil
	}

	if err := d.store.MarkFailedPermanent(ctx, item.ID, procErr.Error(), now); err != nil {
		if errors.Is(err, store.ErrUpdateFailed) {
			log.Warn("lease lost before permanent failure could be recorded")
			return nil
		}
		log.Error("failed to mark item failed_permanent", slog.String("error", err.Error()))
		return fmt.Errorf("failed to mark item failed_permanent: %w", err)
	}
	log.Error("item failed permanently",
		slog.String("error", procErr.Error()),
		slog.Int("attempts", item.Attempts),
		slog.Int("max_attempts", item.MaxAttempts))
	return nil
}
