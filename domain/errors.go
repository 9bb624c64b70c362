package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned for unknown tasks and for tasks the caller may not see.
	ErrNotFound = errors.New("task not found")
	// ErrAccessDenied is returned when the caller may not mutate an existing task.
	ErrAccessDenied = errors.New("access denied")
	// ErrConflict is reserved for uniqueness violations in the user directory.
	ErrConflict = errors.New("conflict")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError describes a missing or malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
