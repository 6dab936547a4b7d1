package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/platform/logger"
	"github.com/advisoros/taskqueue/internal/store"
)

// DefaultLeaseDuration bounds a worker's claim on an item when the Dequeuer
// is constructed with a zero duration.
const DefaultLeaseDuration = 5 * time.Minute

// Dequeuer selects eligible items and leases them to the calling worker.
//
// Dequeue is a two-phase operation: a read of candidate IDs followed by one
// atomic conditional update that re-checks eligibility per row. The update is
// the only synchronization primitive; two workers racing over the same item
// cannot both win it because only one update can observe the row pending and
// unlocked.
type Dequeuer struct {
	store         store.QueueItemStore
	leaseDuration time.Duration
	logger        *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewDequeuer creates a Dequeuer with the given lease duration.
// If leaseDuration is zero, DefaultLeaseDuration applies.
// If logger is nil, a default logger will be used.
func NewDequeuer(s store.QueueItemStore, leaseDuration time.Duration, log *slog.Logger) *Dequeuer {
	if s == nil {
		panic("store cannot be nil")
	}
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dequeuer{
		store:         s,
		leaseDuration: leaseDuration,
		logger:        log.With(slog.String("component", "dequeuer")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Dequeue returns up to limit items leased to the caller, scoped to the given
// queues and organization. organizationID may be uuid.Nil for a worker that
// serves every tenant. Items lost to a racing dequeuer between selection and
// lease acquisition are silently absent from the result; the caller simply
// receives fewer items than limit.
func (d *Dequeuer) Dequeue(
	ctx context.Context,
	queueNames []string,
	organizationID uuid.UUID,
	limit int,
) ([]*domain.QueueItem, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	if limit <= 0 {
		return nil, nil
	}

	now := d.now()

	candidates, err := d.store.SelectEligible(ctx, queueNames, organizationID, limit, now)
	if err != nil {
		log.Error("failed to select eligible items",
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to select eligible items: %w", err)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	// One fresh lock identifier covers the whole batch.
	lockID := uuid.New()

	items, err := d.store.AcquireLeases(ctx, candidates, lockID, now, d.leaseDuration)
	if err != nil {
		log.Error("failed to acquire leases",
			slog.String("error", err.Error()),
			slog.Int("candidate_count", len(candidates)))
		return nil, fmt.Errorf("failed to acquire leases: %w", err)
	}

	if len(items) < len(candidates) {
		log.Debug("lost candidates to racing dequeuer",
			slog.Int("selected", len(candidates)),
			slog.Int("won", len(items)))
	}

	// The batch UPDATE returns rows in no particular order; restore the
	// selection order before handing the batch to the worker.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	log.Debug("items dequeued",
		slog.String("lock_id", lockID.String()),
		slog.Int("count", len(items)))
	return items, nil
}

// ExtendLease pushes the lease window forward by extension for an item the
// caller still holds under lockID. Long-running processors call this
// periodically so the reaper does not reclaim an item that is still being
// worked on. Returns store.ErrLeaseLost if the lease has already been
// reclaimed or resolved.
func (d *Dequeuer) ExtendLease(
	ctx context.Context,
	itemID, lockID uuid.UUID,
	extension time.Duration,
) error {
	log := logger.FromContextOrDefault(ctx, d.logger)

	if extension <= 0 {
		extension = d.leaseDuration
	}

	until := d.now().Add(extension)
	if err := d.store.ExtendLease(ctx, itemID, lockID, until); err != nil {
		log.Warn("failed to extend lease",
			slog.String("error", err.Error()),
			slog.String("item_id", itemID.String()),
			slog.String("lock_id", lockID.String()))
		return err
	}

	log.Debug("lease extended",
		slog.String("item_id", itemID.String()),
		slog.Time("lock_expires_at", until))
	return nil
}
