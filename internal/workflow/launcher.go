package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/platform/logger"
	"github.com/advisoros/taskqueue/internal/store"
)

// Launcher starts workflow executions. The task rows and the queue items for
// the initially ready steps are written in one transaction: an execution is
// either fully launched or absent, never half its steps.
type Launcher struct {
	db        *sql.DB
	items     store.QueueItemStore
	tasks     store.WorkflowTaskStore
	queueName string
	logger    *slog.Logger
}

// NewLauncher creates a Launcher over the given database handle and stores.
// If queueName is empty, DefaultQueueName is used. If log is nil, a default
// logger will be used.
func NewLauncher(
	db *sql.DB,
	items store.QueueItemStore,
	tasks store.WorkflowTaskStore,
	queueName string,
	log *slog.Logger,
) *Launcher {
	if db == nil {
		panic("db cannot be nil")
	}
	if items == nil {
		panic("items store cannot be nil")
	}
	if tasks == nil {
		panic("tasks store cannot be nil")
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{
		db:        db,
		items:     items,
		tasks:     tasks,
		queueName: queueName,
		logger:    log.With(slog.String("component", "workflow_launcher")),
	}
}

// StartExecution instantiates the template under a fresh execution ID and
// persists every step task plus the queue items for the steps that start
// ready. Returns the new execution ID.
func (l *Launcher) StartExecution(
	ctx context.Context,
	tmpl *Template,
	organizationID uuid.UUID,
	entityID, entityType string,
) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, l.logger)

	executionID := uuid.New()
	planned, err := tmpl.Instantiate(executionID, organizationID, entityID, entityType)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to instantiate template %q: %w", tmpl.Name, err)
	}

	err = store.RunInTransaction(ctx, l.db, func(ctx context.Context, tx *sql.Tx) error {
		taskStore := l.tasks.WithTx(tx)
		itemStore := l.items.WithTx(tx)

		for _, t := range planned {
			if err := taskStore.Create(ctx, t); err != nil {
				return fmt.Errorf("failed to create workflow task for step %d: %w", t.StepIndex, err)
			}
		}

		for _, t := range planned {
			if t.Status != domain.WorkflowTaskStatusReady {
				continue
			}
			item, err := l.stepQueueItem(t)
			if err != nil {
				return err
			}
			if err := itemStore.Create(ctx, item); err != nil {
				return fmt.Errorf("failed to enqueue workflow step %d: %w", t.StepIndex, err)
			}
		}

		return nil
	})
	if err != nil {
		log.Error("failed to launch workflow execution",
			slog.String("error", err.Error()),
			slog.String("template", tmpl.Name))
		return uuid.Nil, err
	}

	log.Info("workflow execution launched",
		slog.String("execution_id", executionID.String()),
		slog.String("template", tmpl.Name),
		slog.Int("step_count", len(planned)))
	return executionID, nil
}

// stepQueueItem builds the pending queue item for one ready step.
func (l *Launcher) stepQueueItem(task *domain.WorkflowTask) (*domain.QueueItem, error) {
	payload, entityID, entityType, err := stepItemFields(task)
	if err != nil {
		return nil, err
	}

	item, err := domain.NewQueueItem(l.queueName, task.ItemType, entityID, entityType, task.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to build step queue item: %w", err)
	}
	item.Priority = task.Priority
	item.Payload = payload
	item.CreatedBy = "workflow_launcher"
	return item, nil
}
