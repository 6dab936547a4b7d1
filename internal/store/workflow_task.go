package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
)

// WorkflowTaskStore defines the persistence contract for workflow steps and
// their dependency edges. The dependency resolver reads siblings through it
// and records blocked → ready promotions.
type WorkflowTaskStore interface {
	// Create persists a new workflow task. The task must validate.
	Create(ctx context.Context, task *domain.WorkflowTask) error

	// GetByID retrieves a workflow task by its unique ID.
	// Returns ErrWorkflowTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowTask, error)

	// ListByExecution retrieves every step of one workflow execution,
	// ordered by step index.
	ListByExecution(ctx context.Context, executionID uuid.UUID) ([]*domain.WorkflowTask, error)

	// MarkReady transitions a task from blocked to ready. Conditional on the
	// current status being blocked; returns ErrUpdateFailed if another
	// resolver pass already promoted it. This keeps promotion idempotent
	// when completion events race.
	MarkReady(ctx context.Context, id uuid.UUID) error

	// UpdateStatus sets a task's status unconditionally (completed, failed,
	// cancelled). Returns ErrWorkflowTaskNotFound if the task does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WorkflowTaskStatus) error

	// WithTx returns a WorkflowTaskStore that runs against the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) WorkflowTaskStore
}
