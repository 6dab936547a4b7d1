package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
)

// QueueStats holds per-status counts for one organization's queues, as
// returned by CountByStatus. Consumed by dashboards and alerting.
type QueueStats struct {
	OrganizationID uuid.UUID                      `json:"organization_id"`
	QueueName      string                         `json:"queue_name,omitempty"`
	Counts         map[domain.QueueItemStatus]int `json:"counts"`
	Total          int                            `json:"total"`
}

// QueueItemStore defines the persistence contract the queue engine runs on.
//
// The only synchronization primitive the engine relies on is the atomic
// row-scoped conditional update: every state transition re-checks its
// precondition inside the statement that performs it. Implementations must
// guarantee per-row atomicity for those updates; no in-process state is
// authoritative.
type QueueItemStore interface {
	// Create persists a new queue item. The item must validate.
	Create(ctx context.Context, item *domain.QueueItem) error

	// GetByID retrieves a queue item by its unique ID.
	// Returns ErrItemNotFound if the item does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)

	// SelectEligible returns the IDs of up to limit dequeue-eligible items:
	// pending, not scheduled beyond now, attempts below max, scoped to the
	// given queues and organization, ordered by priority desc, created_at asc.
	// An empty queueNames slice and uuid.Nil organizationID each mean
	// unscoped. This is the read phase of dequeue; winners are decided by
	// AcquireLeases.
	SelectEligible(
		ctx context.Context,
		queueNames []string,
		organizationID uuid.UUID,
		limit int,
		now time.Time,
	) ([]uuid.UUID, error)

	// AcquireLeases executes the single atomic conditional update that closes
	// the selection race: of the candidate IDs, only rows still pending,
	// unlocked, and under their attempt budget at execution time are moved to
	// processing under lockID, with attempts incremented and the lease window
	// set. It returns the items the caller actually won; candidates lost to a
	// racing dequeuer are absent.
	AcquireLeases(
		ctx context.Context,
		candidateIDs []uuid.UUID,
		lockID uuid.UUID,
		now time.Time,
		leaseDuration time.Duration,
	) ([]*domain.QueueItem, error)

	// ExtendLease pushes lock_expires_at forward for an item still processing
	// under lockID. Returns ErrLeaseLost if the item no longer carries that
	// lock.
	ExtendLease(ctx context.Context, id, lockID uuid.UUID, until time.Time) error

	// MarkCompleted records a successful outcome and clears the lease.
	// Conditional on status = processing; returns ErrUpdateFailed otherwise.
	MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage, now time.Time) error

	// MarkFailedRetryable records a retryable failure: status
	// failed_retryable, next_retry_at set, lease cleared.
	// Conditional on status = processing; returns ErrUpdateFailed otherwise.
	MarkFailedRetryable(
		ctx context.Context,
		id uuid.UUID,
		errorMessage string,
		nextRetryAt time.Time,
	) error

	// MarkFailedPermanent records a terminal failure: status failed_permanent,
	// next_retry_at cleared, failed_at set, lease cleared.
	// Conditional on status = processing; returns ErrUpdateFailed otherwise.
	MarkFailedPermanent(ctx context.Context, id uuid.UUID, errorMessage string, now time.Time) error

	// Cancel marks a pending item cancelled. Cancellation is only effective
	// while pending; returns ErrUpdateFailed once the item has been leased.
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) error

	// ResetExpiredLeases returns every processing item whose lease expired
	// before now to pending, clearing the lease fields without touching
	// attempts. Returns the number of items reclaimed.
	ResetExpiredLeases(ctx context.Context, now time.Time) (int, error)

	// ResetDueRetries returns failed_retryable items whose next_retry_at has
	// passed (and which still have attempts left) to pending, clearing
	// next_retry_at and error_message. Scoped to an organization and,
	// if queueName is non-empty, one queue. Returns the number reset.
	ResetDueRetries(
		ctx context.Context,
		organizationID uuid.UUID,
		queueName string,
		now time.Time,
	) (int, error)

	// CountByStatus returns item counts grouped by status for an organization
	// and, if queueName is non-empty, one queue.
	CountByStatus(ctx context.Context, organizationID uuid.UUID, queueName string) (*QueueStats, error)

	// WithTx returns a QueueItemStore that runs against the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) QueueItemStore
}
