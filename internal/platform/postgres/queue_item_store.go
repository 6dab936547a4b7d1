package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/platform/logger"
	"github.com/advisoros/taskqueue/internal/store"
)

// queueItemColumns is the column list shared by every SELECT and RETURNING
// clause in this file; scanQueueItem must stay in sync with it.
const queueItemColumns = `id, queue_name, item_type, entity_id, entity_type, organization_id,
	priority, payload, status, attempts, max_attempts, scheduled_for,
	processing_lock_id, lock_acquired_at, lock_expires_at, next_retry_at,
	result, error_message, created_at, started_at, completed_at, failed_at, created_by`

// PostgresQueueItemStore implements the store.QueueItemStore interface
// using a PostgreSQL database as the storage backend.
type PostgresQueueItemStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresQueueItemStore creates a new PostgreSQL implementation of the
// QueueItemStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresQueueItemStore(db store.DBTX, log *slog.Logger) *PostgresQueueItemStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresQueueItemStore{
		db:     db,
		logger: log.With(slog.String("component", "queue_item_store")),
	}
}

// Ensure PostgresQueueItemStore implements store.QueueItemStore interface
var _ store.QueueItemStore = (*PostgresQueueItemStore)(nil)

// Create implements store.QueueItemStore.Create.
func (s *PostgresQueueItemStore) Create(ctx context.Context, item *domain.QueueItem) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := item.Validate(); err != nil {
		log.Warn("queue item validation failed during create",
			slog.String("error", err.Error()),
			slog.String("item_id", item.ID.String()))
		return err
	}

	query := `
		INSERT INTO queue_items (
			id, queue_name, item_type, entity_id, entity_type, organization_id,
			priority, payload, status, attempts, max_attempts, scheduled_for,
			created_at, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		item.ID,
		item.QueueName,
		item.ItemType,
		item.EntityID,
		item.EntityType,
		item.OrganizationID,
		item.Priority,
		[]byte(item.Payload),
		item.Status,
		item.Attempts,
		item.MaxAttempts,
		item.ScheduledFor,
		item.CreatedAt,
		item.CreatedBy,
	)
	if err != nil {
		log.Error("failed to create queue item",
			slog.String("error", err.Error()),
			slog.String("item_id", item.ID.String()))
		return MapError(err)
	}

	return nil
}

// GetByID implements store.QueueItemStore.GetByID.
// Returns store.ErrItemNotFound if the item does not exist.
func (s *PostgresQueueItemStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + queueItemColumns + ` FROM queue_items WHERE id = $1`

	item, err := scanQueueItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrItemNotFound
		}
		log.Error("failed to get queue item by ID",
			slog.String("error", err.Error()),
			slog.String("item_id", id.String()))
		return nil, MapError(err)
	}

	return item, nil
}

// SelectEligible implements store.QueueItemStore.SelectEligible. This is only
// the read phase of dequeue; rows returned here may be gone by the time
// AcquireLeases runs, and that is fine.
func (s *PostgresQueueItemStore) SelectEligible(
	ctx context.Context,
	queueNames []string,
	organizationID uuid.UUID,
	limit int,
	now time.Time,
) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id
		FROM queue_items
		WHERE status = 'pending'
		  AND (scheduled_for IS NULL OR scheduled_for <= $1)
		  AND attempts < max_attempts
	`
	args := []any{now}

	if len(queueNames) > 0 {
		query += fmt.Sprintf(" AND queue_name = ANY($%d)", len(args)+1)
		args = append(args, queueNames)
	}
	if organizationID != uuid.Nil {
		query += fmt.Sprintf(" AND organization_id = $%d", len(args)+1)
		args = append(args, organizationID)
	}

	query += fmt.Sprintf(" ORDER BY priority DESC, created_at ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to select eligible items",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer closeRows(rows, log)

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Error("failed to scan eligible item ID",
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating eligible item rows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return ids, nil
}

// AcquireLeases implements store.QueueItemStore.AcquireLeases.
//
// The WHERE clause re-checks `status = 'pending' AND processing_lock_id IS
// NULL AND attempts < max_attempts` inside the UPDATE itself. Two dequeuers
// racing over the same candidate cannot both match: PostgreSQL evaluates the
// predicate against the row's current version under the row lock, so the
// loser sees the row already processing and skips it. The attempts bound is
// part of the predicate so a candidate list that went stale between the
// eligibility scan and this UPDATE cannot lease an item past its attempt
// budget. The RETURNING set is therefore exactly the batch this caller won.
func (s *PostgresQueueItemStore) AcquireLeases(
	ctx context.Context,
	candidateIDs []uuid.UUID,
	lockID uuid.UUID,
	now time.Time,
	leaseDuration time.Duration,
) ([]*domain.QueueItem, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(candidateIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidateIDs))
	for i, id := range candidateIDs {
		ids[i] = id.String()
	}

	query := `
		UPDATE queue_items
		SET status = 'processing',
		    processing_lock_id = $1,
		    lock_acquired_at = $2,
		    lock_expires_at = $3,
		    started_at = $2,
		    attempts = attempts + 1
		WHERE id = ANY($4::uuid[])
		  AND status = 'pending'
		  AND processing_lock_id IS NULL
		  AND attempts < max_attempts
		RETURNING ` + queueItemColumns

	rows, err := s.db.QueryContext(ctx, query, lockID, now, now.Add(leaseDuration), ids)
	if err != nil {
		log.Error("failed to acquire leases",
			slog.String("error", err.Error()),
			slog.String("lock_id", lockID.String()))
		return nil, MapError(err)
	}
	defer closeRows(rows, log)

	var items []*domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			log.Error("failed to scan leased item",
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating leased item rows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return items, nil
}

// ExtendLease implements store.QueueItemStore.ExtendLease.
// Returns store.ErrLeaseLost if the item no longer carries the caller's lock.
func (s *PostgresQueueItemStore) ExtendLease(ctx context.Context, id, lockID uuid.UUID, until time.Time) error {
	query := `
		UPDATE queue_items
		SET lock_expires_at = $3
		WHERE id = $1
		  AND processing_lock_id = $2
		  AND status = 'processing'
	`

	return s.conditionalUpdate(ctx, "extend lease", id, store.ErrLeaseLost, query, id, lockID, until)
}

// MarkCompleted implements store.QueueItemStore.MarkCompleted.
func (s *PostgresQueueItemStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	result json.RawMessage,
	now time.Time,
) error {
	query := `
		UPDATE queue_items
		SET status = 'completed',
		    result = $2,
		    completed_at = $3,
		    processing_lock_id = NULL,
		    lock_acquired_at = NULL,
		    lock_expires_at = NULL
		WHERE id = $1
		  AND status = 'processing'
	`

	return s.conditionalUpdate(ctx, "mark completed", id, store.ErrUpdateFailed, query, id, []byte(result), now)
}

// MarkFailedRetryable implements store.QueueItemStore.MarkFailedRetryable.
func (s *PostgresQueueItemStore) MarkFailedRetryable(
	ctx context.Context,
	id uuid.UUID,
	errorMessage string,
	nextRetryAt time.Time,
) error {
	query := `
		UPDATE queue_items
		SET status = 'failed_retryable',
		    error_message = $2,
		    next_retry_at = $3,
		    processing_lock_id = NULL,
		    lock_acquired_at = NULL,
		    lock_expires_at = NULL
		WHERE id = $1
		  AND status = 'processing'
	`

	return s.conditionalUpdate(
		ctx, "mark failed_retryable", id, store.ErrUpdateFailed, query, id, errorMessage, nextRetryAt)
}

// MarkFailedPermanent implements store.QueueItemStore.MarkFailedPermanent.
func (s *PostgresQueueItemStore) MarkFailedPermanent(
	ctx context.Context,
	id uuid.UUID,
	errorMessage string,
	now time.Time,
) error {
	query := `
		UPDATE queue_items
		SET status = 'failed_permanent',
		    error_message = $2,
		    failed_at = $3,
		    next_retry_at = NULL,
		    processing_lock_id = NULL,
		    lock_acquired_at = NULL,
		    lock_expires_at = NULL
		WHERE id = $1
		  AND status = 'processing'
	`

	return s.conditionalUpdate(
		ctx, "mark failed_permanent", id, store.ErrUpdateFailed, query, id, errorMessage, now)
}

// Cancel implements store.QueueItemStore.Cancel. Cancellation is advisory and
// only effective while the item is still pending.
func (s *PostgresQueueItemStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE queue_items
		SET status = 'cancelled'
		WHERE id = $1
		  AND status = 'pending'
	`

	return s.conditionalUpdate(ctx, "cancel", id, store.ErrUpdateFailed, query, id)
}

// ResetExpiredLeases implements store.QueueItemStore.ResetExpiredLeases.
// Attempts are deliberately left at their lease-time value.
func (s *PostgresQueueItemStore) ResetExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE queue_items
		SET status = 'pending',
		    processing_lock_id = NULL,
		    lock_acquired_at = NULL,
		    lock_expires_at = NULL
		WHERE status = 'processing'
		  AND lock_expires_at < $1
	`

	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		log.Error("failed to reset expired leases",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	return int(count), nil
}

// ResetDueRetries implements store.QueueItemStore.ResetDueRetries.
func (s *PostgresQueueItemStore) ResetDueRetries(
	ctx context.Context,
	organizationID uuid.UUID,
	queueName string,
	now time.Time,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE queue_items
		SET status = 'pending',
		    next_retry_at = NULL,
		    error_message = NULL
		WHERE status = 'failed_retryable'
		  AND next_retry_at <= $1
		  AND attempts < max_attempts
	`
	args := []any{now}

	if organizationID != uuid.Nil {
		query += fmt.Sprintf(" AND organization_id = $%d", len(args)+1)
		args = append(args, organizationID)
	}
	if queueName != "" {
		query += fmt.Sprintf(" AND queue_name = $%d", len(args)+1)
		args = append(args, queueName)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to reset due retries",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	return int(count), nil
}

// CountByStatus implements store.QueueItemStore.CountByStatus.
func (s *PostgresQueueItemStore) CountByStatus(
	ctx context.Context,
	organizationID uuid.UUID,
	queueName string,
) (*store.QueueStats, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT status, COUNT(*) FROM queue_items WHERE 1 = 1`
	var args []any

	if organizationID != uuid.Nil {
		query += fmt.Sprintf(" AND organization_id = $%d", len(args)+1)
		args = append(args, organizationID)
	}
	if queueName != "" {
		query += fmt.Sprintf(" AND queue_name = $%d", len(args)+1)
		args = append(args, queueName)
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to count items by status",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer closeRows(rows, log)

	stats := &store.QueueStats{
		OrganizationID: organizationID,
		QueueName:      queueName,
		Counts:         make(map[domain.QueueItemStatus]int),
	}

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			log.Error("failed to scan status count row",
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		stats.Counts[domain.QueueItemStatus(status)] = count
		stats.Total += count
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating status count rows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return stats, nil
}

// WithTx implements store.QueueItemStore.WithTx.
func (s *PostgresQueueItemStore) WithTx(tx *sql.Tx) store.QueueItemStore {
	return &PostgresQueueItemStore{
		db:     tx,
		logger: s.logger,
	}
}

// conditionalUpdate runs a single-row conditional UPDATE and translates the
// zero-rows case into notMatched; the caller picks the sentinel that names
// the race it detects.
func (s *PostgresQueueItemStore) conditionalUpdate(
	ctx context.Context,
	operation string,
	id uuid.UUID,
	notMatched error,
	query string,
	args ...any,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to "+operation,
			slog.String("error", err.Error()),
			slog.String("item_id", id.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()),
			slog.String("item_id", id.String()))
		return MapError(err)
	}

	if rowsAffected == 0 {
		log.Debug("conditional update matched no rows",
			slog.String("operation", operation),
			slog.String("item_id", id.String()))
		return notMatched
	}

	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanQueueItem scans one queueItemColumns row into a domain item.
func scanQueueItem(row rowScanner) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var status string
	var payload, result []byte
	var entityType, createdBy, errorMessage sql.NullString
	var processingLockID sql.Null[uuid.UUID]
	var scheduledFor, lockAcquiredAt, lockExpiresAt, nextRetryAt sql.NullTime
	var startedAt, completedAt, failedAt sql.NullTime

	err := row.Scan(
		&item.ID,
		&item.QueueName,
		&item.ItemType,
		&item.EntityID,
		&entityType,
		&item.OrganizationID,
		&item.Priority,
		&payload,
		&status,
		&item.Attempts,
		&item.MaxAttempts,
		&scheduledFor,
		&processingLockID,
		&lockAcquiredAt,
		&lockExpiresAt,
		&nextRetryAt,
		&result,
		&errorMessage,
		&item.CreatedAt,
		&startedAt,
		&completedAt,
		&failedAt,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}

	item.Status = domain.QueueItemStatus(status)
	item.Payload = json.RawMessage(payload)
	item.Result = json.RawMessage(result)
	item.EntityType = entityType.String
	item.CreatedBy = createdBy.String
	item.ErrorMessage = errorMessage.String
	if processingLockID.Valid {
		id := processingLockID.V
		item.ProcessingLockID = &id
	}
	item.ScheduledFor = nullTimePtr(scheduledFor)
	item.LockAcquiredAt = nullTimePtr(lockAcquiredAt)
	item.LockExpiresAt = nullTimePtr(lockExpiresAt)
	item.NextRetryAt = nullTimePtr(nextRetryAt)
	item.StartedAt = nullTimePtr(startedAt)
	item.CompletedAt = nullTimePtr(completedAt)
	item.FailedAt = nullTimePtr(failedAt)

	return &item, nil
}

// nullTimePtr converts a NullTime to a *time.Time.
func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// closeRows closes rows and logs a failure; there is nothing else to do with it.
func closeRows(rows *sql.Rows, log *slog.Logger) {
	if err := rows.Close(); err != nil {
		log.Error("failed to close rows", slog.String("error", err.Error()))
	}
}
