package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// WorkflowTaskStatus represents the scheduling state of a workflow step.
type WorkflowTaskStatus string

// Possible workflow task status values
const (
	// WorkflowTaskStatusBlocked means one or more prerequisite steps have not
	// completed yet; the task has not been enqueued.
	WorkflowTaskStatusBlocked WorkflowTaskStatus = "blocked"

	// WorkflowTaskStatusReady means all prerequisites are satisfied and the
	// task has been handed to the enqueuer.
	WorkflowTaskStatusReady WorkflowTaskStatus = "ready"

	WorkflowTaskStatusCompleted WorkflowTaskStatus = "completed"
	WorkflowTaskStatusFailed    WorkflowTaskStatus = "failed"
	WorkflowTaskStatusCancelled WorkflowTaskStatus = "cancelled"
)

// Common validation errors for WorkflowTask
var (
	ErrEmptyExecutionID      = errors.New("workflow execution ID cannot be empty")
	ErrNegativeStepIndex     = errors.New("step index cannot be negative")
	ErrInvalidWorkflowStatus = errors.New("invalid workflow task status")
	ErrSelfDependency        = errors.New("step cannot require its own completion")
)

// WorkflowTask is one step of a workflow execution. Steps within the same
// execution may gate on each other by step index; the dependency resolver
// promotes a blocked task to ready once every index in RequiresCompletion has
// a completed sibling.
//
// The queue engine never sees this type. It only sees the QueueItem the
// resolver enqueues once the task is ready.
type WorkflowTask struct {
	ID             uuid.UUID          `json:"id"`
	ExecutionID    uuid.UUID          `json:"execution_id"`
	OrganizationID uuid.UUID          `json:"organization_id"`
	StepIndex      int                `json:"step_index"`
	Name           string             `json:"name"`
	ItemType       string             `json:"item_type"`
	EntityID       string             `json:"entity_id"`
	EntityType     string             `json:"entity_type"`
	Priority       int                `json:"priority"`
	Status         WorkflowTaskStatus `json:"status"`

	// RequiresCompletion lists the step indices of sibling tasks that must be
	// completed before this task may be enqueued. Empty means unblocked.
	RequiresCompletion []int `json:"requires_completion,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowTask creates a WorkflowTask for the given execution and step.
// Tasks with no prerequisites start ready; gated tasks start blocked.
func NewWorkflowTask(
	executionID, organizationID uuid.UUID,
	stepIndex int,
	name, itemType string,
	requires []int,
) (*WorkflowTask, error) {
	status := WorkflowTaskStatusReady
	if len(requires) > 0 {
		status = WorkflowTaskStatusBlocked
	}

	task := &WorkflowTask{
		ID:                 uuid.New(),
		ExecutionID:        executionID,
		OrganizationID:     organizationID,
		StepIndex:          stepIndex,
		Name:               name,
		ItemType:           itemType,
		Status:             status,
		RequiresCompletion: requires,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the WorkflowTask has valid data.
func (t *WorkflowTask) Validate() error {
	if t.ExecutionID == uuid.Nil {
		return ErrEmptyExecutionID
	}

	if t.OrganizationID == uuid.Nil {
		return ErrEmptyOrganizationID
	}

	if t.StepIndex < 0 {
		return ErrNegativeStepIndex
	}

	if t.ItemType == "" {
		return ErrEmptyItemType
	}

	if !isValidWorkflowTaskStatus(t.Status) {
		return ErrInvalidWorkflowStatus
	}

	for _, idx := range t.RequiresCompletion {
		if idx == t.StepIndex {
			return ErrSelfDependency
		}
		if idx < 0 {
			return ErrNegativeStepIndex
		}
	}

	return nil
}

// Unblocked reports whether every required step index appears in the given
// set of completed sibling indices.
func (t *WorkflowTask) Unblocked(completed map[int]bool) bool {
	for _, idx := range t.RequiresCompletion {
		if !completed[idx] {
			return false
		}
	}
	return true
}

// isValidWorkflowTaskStatus checks if the given status is a valid WorkflowTaskStatus.
func isValidWorkflowTaskStatus(status WorkflowTaskStatus) bool {
	switch status {
	case WorkflowTaskStatusBlocked, WorkflowTaskStatusReady,
		WorkflowTaskStatusCompleted, WorkflowTaskStatusFailed, WorkflowTaskStatusCancelled:
		return true
	default:
		return false
	}
}
