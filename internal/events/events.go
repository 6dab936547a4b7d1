package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StepCompletedEvent announces that a workflow step has reached a terminal
// completed state. It carries enough information for dependency resolution
// without direct knowledge of the resolver.
type StepCompletedEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// ExecutionID identifies the workflow execution the step belongs to
	ExecutionID uuid.UUID `json:"execution_id"`

	// OrganizationID is the tenant that owns the execution
	OrganizationID uuid.UUID `json:"organization_id"`

	// StepIndex is the position of the completed step within the execution
	StepIndex int `json:"step_index"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewStepCompletedEvent creates a completion event for the given execution step.
func NewStepCompletedEvent(executionID, organizationID uuid.UUID, stepIndex int) *StepCompletedEvent {
	return &StepCompletedEvent{
		ID:             uuid.New(),
		ExecutionID:    executionID,
		OrganizationID: organizationID,
		StepIndex:      stepIndex,
		CreatedAt:      time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *StepCompletedEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the engine to publish completions without direct knowledge
// of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *StepCompletedEvent) error
}
