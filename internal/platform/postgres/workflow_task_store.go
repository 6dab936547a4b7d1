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

const workflowTaskColumns = `id, execution_id, organization_id, step_index, name, item_type,
	entity_id, entity_type, priority, status, requires_completion, created_at, updated_at`

// PostgresWorkflowTaskStore implements the store.WorkflowTaskStore interface
// using a PostgreSQL database as the storage backend. Dependency edges are
// stored on the task row as a JSONB array of required step indices.
type PostgresWorkflowTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWorkflowTaskStore creates a new PostgreSQL implementation of the
// WorkflowTaskStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresWorkflowTaskStore(db store.DBTX, log *slog.Logger) *PostgresWorkflowTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresWorkflowTaskStore{
		db:     db,
		logger: log.With(slog.String("component", "workflow_task_store")),
	}
}

// Ensure PostgresWorkflowTaskStore implements store.WorkflowTaskStore interface
var _ store.WorkflowTaskStore = (*PostgresWorkflowTaskStore)(nil)

// Create implements store.WorkflowTaskStore.Create.
func (s *PostgresWorkflowTaskStore) Create(ctx context.Context, task *domain.WorkflowTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("workflow task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO workflow_tasks (
			id, execution_id, organization_id, step_index, name, item_type,
			entity_id, entity_type, priority, status, requires_completion,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	requires, err := json.Marshal(task.RequiresCompletion)
	if err != nil {
		return fmt.Errorf("failed to encode dependency edges: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.ExecutionID,
		task.OrganizationID,
		task.StepIndex,
		task.Name,
		task.ItemType,
		task.EntityID,
		task.EntityType,
		task.Priority,
		task.Status,
		requires,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create workflow task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	return nil
}

// GetByID implements store.WorkflowTaskStore.GetByID.
// Returns store.ErrWorkflowTaskNotFound if the task does not exist.
func (s *PostgresWorkflowTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + workflowTaskColumns + ` FROM workflow_tasks WHERE id = $1`

	task, err := scanWorkflowTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrWorkflowTaskNotFound
		}
		log.Error("failed to get workflow task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	return task, nil
}

// ListByExecution implements store.WorkflowTaskStore.ListByExecution.
func (s *PostgresWorkflowTaskStore) ListByExecution(
	ctx context.Context,
	executionID uuid.UUID,
) ([]*domain.WorkflowTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + workflowTaskColumns + `
		FROM workflow_tasks
		WHERE execution_id = $1
		ORDER BY step_index ASC
	`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		log.Error("failed to list workflow tasks by execution",
			slog.String("error", err.Error()),
			slog.String("execution_id", executionID.String()))
		return nil, MapError(err)
	}
	defer closeRows(rows, log)

	var tasks []*domain.WorkflowTask
	for rows.Next() {
		task, err := scanWorkflowTask(rows)
		if err != nil {
			log.Error("failed to scan workflow task row",
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating workflow task rows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return tasks, nil
}

// MarkReady implements store.WorkflowTaskStore.MarkReady. Conditional on the
// task still being blocked so concurrent resolver passes promote it once.
func (s *PostgresWorkflowTaskStore) MarkReady(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE workflow_tasks
		SET status = 'ready', updated_at = $2
		WHERE id = $1
		  AND status = 'blocked'
	`

	result, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		log.Error("failed to mark workflow task ready",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	if rowsAffected == 0 {
		return store.ErrUpdateFailed
	}

	return nil
}

// UpdateStatus implements store.WorkflowTaskStore.UpdateStatus.
func (s *PostgresWorkflowTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.WorkflowTaskStatus,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE workflow_tasks
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		log.Error("failed to update workflow task status",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("status", string(status)))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	if rowsAffected == 0 {
		return store.ErrWorkflowTaskNotFound
	}

	return nil
}

// WithTx implements store.WorkflowTaskStore.WithTx.
func (s *PostgresWorkflowTaskStore) WithTx(tx *sql.Tx) store.WorkflowTaskStore {
	return &PostgresWorkflowTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanWorkflowTask scans one workflowTaskColumns row into a domain task.
func scanWorkflowTask(row rowScanner) (*domain.WorkflowTask, error) {
	var task domain.WorkflowTask
	var status string
	var entityID, entityType sql.NullString
	var requires []byte

	err := row.Scan(
		&task.ID,
		&task.ExecutionID,
		&task.OrganizationID,
		&task.StepIndex,
		&task.Name,
		&task.ItemType,
		&entityID,
		&entityType,
		&task.Priority,
		&status,
		&requires,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.WorkflowTaskStatus(status)
	task.EntityID = entityID.String
	task.EntityType = entityType.String
	if len(requires) > 0 {
		if err := json.Unmarshal(requires, &task.RequiresCompletion); err != nil {
			return nil, fmt.Errorf("failed to decode dependency edges: %w", err)
		}
	}

	return &task, nil
}
