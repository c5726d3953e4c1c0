package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-bound input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates a transition attempted from a state that does not permit it.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrConflict indicates the operation collides with an existing resource.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates a policy rejected the actor.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError names the offending field and the failed precondition.
type ValidationError struct {
	Field  string
	Reason string
}

// Validation builds a ValidationError with a formatted reason.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidStateError reports the current and attempted states of an entity.
type InvalidStateError struct {
	Entity    string
	ID        int64
	Current   string
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d: cannot %s from status %s", e.Entity, e.ID, e.Attempted, e.Current)
}

// Is matches ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ConflictError carries the id of the resource the caller collided with.
type ConflictError struct {
	Resource string
	ID       int64
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %d: %s", e.Resource, e.ID, e.Reason)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ForbiddenError explains which policy rejected the actor.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }

// Is matches ErrForbidden.
func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }
