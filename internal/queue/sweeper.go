package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/platform/logger"
	"github.com/advisoros/taskqueue/internal/store"
)

// Sweeper runs the two periodic maintenance passes: reclaiming expired leases
// from crashed or stalled workers, and promoting due retries back to pending.
// Both go through the store's conditional updates, so any number of sweepers
// may run concurrently across processes.
type Sweeper struct {
	store  store.QueueItemStore
	logger *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewSweeper creates a Sweeper over the given store.
// If logger is nil, a default logger will be used.
func NewSweeper(s store.QueueItemStore, log *slog.Logger) *Sweeper {
	if s == nil {
		panic("store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:  s,
		logger: log.With(slog.String("component", "sweeper")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CleanupExpiredLocks resets every processing item whose lease expired to
// pending, clearing the lease fields. Attempts are not re-incremented: the
// attempt was counted at lease acquisition, so a crashed worker consumes one
// attempt, and repeated crashes on the same item can exhaust max_attempts.
// Returns the number of items reclaimed.
func (s *Sweeper) CleanupExpiredLocks(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	count, err := s.store.ResetExpiredLeases(ctx, s.now())
	if err != nil {
		log.Error("failed to reset expired leases", slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to reset expired leases: %w", err)
	}

	if count > 0 {
		log.Info("reclaimed expired leases", slog.Int("count", count))
	}
	return count, nil
}

// RetryFailedItems promotes failed_retryable items whose next_retry_at has
// passed back to pending, clearing next_retry_at and error_message. This is
// the only path from retryable failure back to dequeue eligibility.
// organizationID may be uuid.Nil and queueName empty to sweep every tenant
// and queue. Returns the number of items reset.
func (s *Sweeper) RetryFailedItems(
	ctx context.Context,
	organizationID uuid.UUID,
	queueName string,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	count, err := s.store.ResetDueRetries(ctx, organizationID, queueName, s.now())
	if err != nil {
		log.Error("failed to reset due retries", slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to reset due retries: %w", err)
	}

	if count > 0 {
		log.Info("promoted due retries", slog.Int("count", count))
	}
	return count, nil
}
