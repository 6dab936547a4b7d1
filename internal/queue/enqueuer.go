package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/platform/logger"
	"github.com/advisoros/taskqueue/internal/store"
)

// DefaultMaxAttempts is applied when EnqueueParams does not specify one.
const DefaultMaxAttempts = 3

// EnqueueParams describes one unit of work to insert. QueueName, ItemType,
// EntityID and OrganizationID are required; everything else has a default.
type EnqueueParams struct {
	QueueName      string
	ItemType       string
	EntityID       string
	EntityType     string
	OrganizationID uuid.UUID
	Priority       int
	Payload        json.RawMessage
	ScheduledFor   *time.Time
	MaxAttempts    int
	CreatedBy      string
}

// Enqueuer inserts new pending queue items. It is a pure insert path:
// no locking, no state beyond the store.
type Enqueuer struct {
	store  store.QueueItemStore
	logger *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewEnqueuer creates an Enqueuer backed by the given store.
// If logger is nil, a default logger will be used.
func NewEnqueuer(s store.QueueItemStore, log *slog.Logger) *Enqueuer {
	if s == nil {
		panic("store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Enqueuer{
		store:  s,
		logger: log.With(slog.String("component", "enqueuer")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue validates the params, builds a pending QueueItem, and persists it.
// Returns the created item, or a domain.ErrValidation-wrapped error for
// missing required identifiers.
func (e *Enqueuer) Enqueue(ctx context.Context, params EnqueueParams) (*domain.QueueItem, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	item, err := domain.NewQueueItem(
		params.QueueName,
		params.ItemType,
		params.EntityID,
		params.EntityType,
		params.OrganizationID,
	)
	if err != nil {
		log.Warn("queue item validation failed during enqueue",
			slog.String("error", err.Error()),
			slog.String("queue_name", params.QueueName),
			slog.String("item_type", params.ItemType))
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	item.Priority = params.Priority
	item.Payload = params.Payload
	item.ScheduledFor = params.ScheduledFor
	item.CreatedBy = params.CreatedBy
	if params.MaxAttempts > 0 {
		item.MaxAttempts = params.MaxAttempts
	} else {
		item.MaxAttempts = DefaultMaxAttempts
	}

	if err := e.store.Create(ctx, item); err != nil {
		log.Error("failed to create queue item",
			slog.String("error", err.Error()),
			slog.String("queue_name", item.QueueName),
			slog.String("item_type", item.ItemType))
		return nil, fmt.Errorf("failed to create queue item: %w", err)
	}

	log.Info("queue item enqueued",
		slog.String("item_id", item.ID.String()),
		slog.String("queue_name", item.QueueName),
		slog.String("item_type", item.ItemType),
		slog.Int("priority", item.Priority))
	return item, nil
}

// Cancel withdraws a pending item. Items that have already been picked up,
// finished, or failed are left untouched; the store reports that case as
// store.ErrUpdateFailed.
func (e *Enqueuer) Cancel(ctx context.Context, itemID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, e.logger)

	if err := e.store.Cancel(ctx, itemID, e.now()); err != nil {
		log.Warn("failed to cancel queue item",
			slog.String("error", err.Error()),
			slog.String("item_id", itemID.String()))
		return fmt.Errorf("failed to cancel queue item: %w", err)
	}

	log.Info("queue item cancelled", slog.String("item_id", itemID.String()))
	return nil
}
