package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// store. This is a generic version of the entity-specific not found
	// errors (e.g., ErrItemNotFound, ErrWorkflowTaskNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when a conditional update matched no rows,
	// either because the entity does not exist or because it was no longer
	// in the state the update required. Conditional transitions (lease
	// acquisition, completion, cancellation) rely on this to detect races.
	ErrUpdateFailed = errors.New("update failed")

	// ErrLeaseLost is returned when a lease-scoped operation (extending a
	// lease, recording a result) finds the item no longer carries the
	// caller's lock, typically because the lease expired and was reclaimed.
	ErrLeaseLost = errors.New("lease no longer held")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrItemNotFound indicates that the requested queue item does not exist in the store.
	ErrItemNotFound = fmt.Errorf("%w: queue item", ErrNotFound)

	// ErrWorkflowTaskNotFound indicates that the requested workflow task does not exist in the store.
	ErrWorkflowTaskNotFound = fmt.Errorf("%w: workflow task", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
