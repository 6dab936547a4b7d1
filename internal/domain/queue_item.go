package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// QueueItemStatus represents the lifecycle state of a queue item
type QueueItemStatus string

// Possible queue item status values
const (
	QueueItemStatusPending         QueueItemStatus = "pending"
	QueueItemStatusProcessing      QueueItemStatus = "processing"
	QueueItemStatusCompleted       QueueItemStatus = "completed"
	QueueItemStatusFailedRetryable QueueItemStatus = "failed_retryable"
	QueueItemStatusFailedPermanent QueueItemStatus = "failed_permanent"
	QueueItemStatusCancelled       QueueItemStatus = "cancelled"
)

// Well-known item types. The set is open; handlers for additional types are
// registered with the dispatcher at runtime.
const (
	ItemTypeWorkflowStep     = "workflow_step"
	ItemTypeNotification     = "notification"
	ItemTypeReportGeneration = "report_generation"
)

// Common validation errors for QueueItem
var (
	ErrEmptyQueueName      = errors.New("queue name cannot be empty")
	ErrEmptyItemType       = errors.New("item type cannot be empty")
	ErrEmptyEntityID       = errors.New("entity ID cannot be empty")
	ErrEmptyOrganizationID = errors.New("organization ID cannot be empty")
	ErrInvalidMaxAttempts  = errors.New("max attempts must be at least 1")
	ErrInvalidItemStatus   = errors.New("invalid queue item status")
)

// QueueItem is the durable unit of asynchronous work. It is the single
// persistent entity the queue engine operates on; the engine never interprets
// the payload.
type QueueItem struct {
	ID             uuid.UUID       `json:"id"`
	QueueName      string          `json:"queue_name"`
	ItemType       string          `json:"item_type"`
	EntityID       string          `json:"entity_id"`
	EntityType     string          `json:"entity_type"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	Priority       int             `json:"priority"`
	Payload        json.RawMessage `json:"payload"`
	Status         QueueItemStatus `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	ScheduledFor   *time.Time      `json:"scheduled_for,omitempty"`

	// Lease fields. ProcessingLockID is non-nil exactly while the item is
	// leased to a worker; LockExpiresAt bounds the lease.
	ProcessingLockID *uuid.UUID `json:"processing_lock_id,omitempty"`
	LockAcquiredAt   *time.Time `json:"lock_acquired_at,omitempty"`
	LockExpiresAt    *time.Time `json:"lock_expires_at,omitempty"`

	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
}

// NewQueueItem creates a pending QueueItem with a fresh ID and creation
// timestamp. Returns an error if validation fails.
func NewQueueItem(
	queueName, itemType, entityID, entityType string,
	organizationID uuid.UUID,
) (*QueueItem, error) {
	item := &QueueItem{
		ID:             uuid.New(),
		QueueName:      queueName,
		ItemType:       itemType,
		EntityID:       entityID,
		EntityType:     entityType,
		OrganizationID: organizationID,
		Priority:       0,
		Status:         QueueItemStatusPending,
		Attempts:       0,
		MaxAttempts:    3,
		CreatedAt:      time.Now().UTC(),
	}

	if err := item.Validate(); err != nil {
		return nil, err
	}

	return item, nil
}

// Validate checks if the QueueItem has valid data.
// Returns an error if any field fails validation.
func (i *QueueItem) Validate() error {
	if i.QueueName == "" {
		return ErrEmptyQueueName
	}

	if i.ItemType == "" {
		return ErrEmptyItemType
	}

	if i.EntityID == "" {
		return ErrEmptyEntityID
	}

	if i.OrganizationID == uuid.Nil {
		return ErrEmptyOrganizationID
	}

	if i.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if !isValidQueueItemStatus(i.Status) {
		return ErrInvalidItemStatus
	}

	return nil
}

// Eligible reports whether the item may be handed to a worker at the given
// instant: pending, not scheduled for the future, attempts remaining.
func (i *QueueItem) Eligible(now time.Time) bool {
	if i.Status != QueueItemStatusPending {
		return false
	}
	if i.ScheduledFor != nil && i.ScheduledFor.After(now) {
		return false
	}
	return i.Attempts < i.MaxAttempts
}

// Terminal reports whether the item has reached a state it can never leave.
// failed_retryable is deliberately not terminal; the retry sweep can reset it.
func (i *QueueItem) Terminal() bool {
	switch i.Status {
	case QueueItemStatusCompleted, QueueItemStatusFailedPermanent, QueueItemStatusCancelled:
		return true
	default:
		return false
	}
}

// isValidQueueItemStatus checks if the given status is a valid QueueItemStatus.
func isValidQueueItemStatus(status QueueItemStatus) bool {
	switch status {
	case QueueItemStatusPending, QueueItemStatusProcessing, QueueItemStatusCompleted,
		QueueItemStatusFailedRetryable, QueueItemStatusFailedPermanent, QueueItemStatusCancelled:
		return true
	default:
		return false
	}
}
