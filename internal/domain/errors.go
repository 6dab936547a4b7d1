package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when an operation is attempted against an
	// item that is not in the state the operation requires, for example
	// processing an item that is no longer leased. Callers may safely log
	// and ignore it; nothing was mutated.
	ErrInvalidState = errors.New("invalid item state")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrNoHandler is returned when no processor has been registered for an
	// item's type.
	ErrNoHandler = errors.New("no handler registered for item type")
)
