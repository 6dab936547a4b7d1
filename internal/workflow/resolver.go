package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/events"
	"github.com/advisoros/taskqueue/internal/platform/logger"
	"github.com/advisoros/taskqueue/internal/queue"
	"github.com/advisoros/taskqueue/internal/store"
)

// DefaultQueueName is the queue workflow step items are enqueued on when the
// resolver is not configured with one.
const DefaultQueueName = "workflows"

// Enqueuer is the slice of the queue engine the resolver needs: the ability
// to insert a pending item for a step that just became ready.
type Enqueuer interface {
	Enqueue(ctx context.Context, params queue.EnqueueParams) (*domain.QueueItem, error)
}

// StepPayload is the payload attached to queue items the resolver enqueues.
// Processors use it to locate the workflow task behind the item.
type StepPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	StepIndex   int       `json:"step_index"`
	TaskID      uuid.UUID `json:"task_id"`
}

// Resolver promotes blocked workflow tasks once their prerequisites complete.
// It recomputes eligibility over a whole execution each time a step finishes,
// so a single completion can unblock several siblings at once.
//
// Promotion races are settled by the store: MarkReady only succeeds for the
// first resolver pass, so concurrent completions of different prerequisites
// enqueue each newly ready step exactly once.
type Resolver struct {
	tasks     store.WorkflowTaskStore
	enqueuer  Enqueuer
	emitter   events.EventEmitter
	queueName string
	logger    *slog.Logger
}

// NewResolver creates a Resolver over the given task store and enqueuer.
// If emitter is non-nil, CompleteStep publishes a StepCompletedEvent through
// it instead of resolving inline; register the resolver as a handler on the
// same emitter to close the loop. If queueName is empty, DefaultQueueName is
// used. If log is nil, a default logger will be used.
func NewResolver(
	tasks store.WorkflowTaskStore,
	enqueuer Enqueuer,
	emitter events.EventEmitter,
	queueName string,
	log *slog.Logger,
) *Resolver {
	if tasks == nil {
		panic("tasks store cannot be nil")
	}
	if enqueuer == nil {
		panic("enqueuer cannot be nil")
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		tasks:     tasks,
		enqueuer:  enqueuer,
		emitter:   emitter,
		queueName: queueName,
		logger:    log.With(slog.String("component", "dependency_resolver")),
	}
}

// Resolver reacts to step completion events.
var _ events.EventHandler = (*Resolver)(nil)

// HandleEvent processes a step completion by re-resolving the execution.
func (r *Resolver) HandleEvent(ctx context.Context, event *events.StepCompletedEvent) error {
	return r.ResolveExecution(ctx, event.ExecutionID)
}

// CompleteStep records a step as completed and promotes any siblings that the
// completion unblocks. It is the entry point for processors that finish a
// workflow step item.
func (r *Resolver) CompleteStep(ctx context.Context, executionID uuid.UUID, stepIndex int) error {
	tasks, err := r.tasks.ListByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to list workflow tasks: %w", err)
	}

	var target *domain.WorkflowTask
	for _, t := range tasks {
		if t.StepIndex == stepIndex {
			target = t
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: execution %s has no step %d",
			store.ErrWorkflowTaskNotFound, executionID, stepIndex)
	}

	if err := r.tasks.UpdateStatus(ctx, target.ID, domain.WorkflowTaskStatusCompleted); err != nil {
		return fmt.Errorf("failed to mark step %d completed: %w", stepIndex, err)
	}

	if r.emitter != nil {
		event := events.NewStepCompletedEvent(executionID, target.OrganizationID, stepIndex)
		if err := r.emitter.EmitEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to publish step completion: %w", err)
		}
		return nil
	}

	return r.ResolveExecution(ctx, executionID)
}

// ResolveExecution recomputes eligibility for every blocked task in the
// execution. A task whose required step indexes all have completed siblings
// is promoted to ready and enqueued. Steps gated on a failed or cancelled
// sibling simply never satisfy their requirements and stay blocked.
func (r *Resolver) ResolveExecution(ctx context.Context, executionID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, r.logger)

	tasks, err := r.tasks.ListByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to list workflow tasks: %w", err)
	}

	completed := make(map[int]bool)
	for _, t := range tasks {
		if t.Status == domain.WorkflowTaskStatusCompleted {
			completed[t.StepIndex] = true
		}
	}

	for _, t := range tasks {
		if t.Status != domain.WorkflowTaskStatusBlocked || !t.Unblocked(completed) {
			continue
		}

		if err := r.tasks.MarkReady(ctx, t.ID); err != nil {
			if errors.Is(err, store.ErrUpdateFailed) {
				// Another resolver pass won the promotion.
				log.Debug("workflow task already promoted",
					slog.String("task_id", t.ID.String()),
					slog.Int("step_index", t.StepIndex))
				continue
			}
			return fmt.Errorf("failed to mark step %d ready: %w", t.StepIndex, err)
		}

		if err := r.enqueueStep(ctx, t); err != nil {
			log.Error("failed to enqueue ready workflow step",
				slog.String("error", err.Error()),
				slog.String("execution_id", executionID.String()),
				slog.Int("step_index", t.StepIndex))
			return err
		}

		log.Info("workflow step promoted and enqueued",
			slog.String("execution_id", executionID.String()),
			slog.Int("step_index", t.StepIndex),
			slog.String("item_type", t.ItemType))
	}

	return nil
}

// EnqueueInitialSteps persists the tasks of a freshly instantiated execution
// and enqueues the ones that start ready.
func (r *Resolver) EnqueueInitialSteps(ctx context.Context, tasks []*domain.WorkflowTask) error {
	for _, t := range tasks {
		if err := r.tasks.Create(ctx, t); err != nil {
			return fmt.Errorf("failed to create workflow task for step %d: %w", t.StepIndex, err)
		}
	}

	for _, t := range tasks {
		if t.Status != domain.WorkflowTaskStatusReady {
			continue
		}
		if err := r.enqueueStep(ctx, t); err != nil {
			return err
		}
	}

	return nil
}

func (r *Resolver) enqueueStep(ctx context.Context, task *domain.WorkflowTask) error {
	payload, entityID, entityType, err := stepItemFields(task)
	if err != nil {
		return err
	}

	_, err = r.enqueuer.Enqueue(ctx, queue.EnqueueParams{
		QueueName:      r.queueName,
		ItemType:       task.ItemType,
		EntityID:       entityID,
		EntityType:     entityType,
		OrganizationID: task.OrganizationID,
		Priority:       task.Priority,
		Payload:        payload,
		CreatedBy:      "dependency_resolver",
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue workflow step %d: %w", task.StepIndex, err)
	}

	return nil
}

// stepItemFields derives the queue item payload and entity identifiers for a
// workflow step task. Tasks without an entity reference fall back to their
// own ID.
func stepItemFields(task *domain.WorkflowTask) (json.RawMessage, string, string, error) {
	payload, err := json.Marshal(StepPayload{
		ExecutionID: task.ExecutionID,
		StepIndex:   task.StepIndex,
		TaskID:      task.ID,
	})
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to marshal step payload: %w", err)
	}

	entityID := task.EntityID
	if entityID == "" {
		entityID = task.ID.String()
	}
	entityType := task.EntityType
	if entityType == "" {
		entityType = "workflow_task"
	}
	return payload, entityID, entityType, nil
}
