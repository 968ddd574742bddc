// Package errors provides the error taxonomy shared by the heartbeat engine.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrCollaboratorTimeout = errors.New("collaborator timed out")
	ErrCollaboratorFailed  = errors.New("collaborator failed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrHeartbeatRunning    = errors.New("heartbeat already running")
	ErrPositionNotOpen     = errors.New("position is not open")
	ErrUnknownAction       = errors.New("unknown decision action")
	ErrConfigInvalid       = errors.New("invalid configuration")
)

// ValidationError represents a rejected parameter. It matches ErrInvalidArgument.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NotFoundError reports an unknown trader, position, heartbeat or instrument.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// CollaboratorError represents a failed or timed out call to a reader,
// the decision oracle or the execution gateway.
type CollaboratorError struct {
	Collaborator string
	Operation    string
	Timeout      bool
	Err          error
}

func (e *CollaboratorError) Error() string {
	kind := "error"
	if e.Timeout {
		kind = "timeout"
	}
	if e.Err != nil {
		return fmt.Sprintf("collaborator %s [%s] %s: %v", kind, e.Collaborator, e.Operation, e.Err)
	}
	return fmt.Sprintf("collaborator %s [%s] %s", kind, e.Collaborator, e.Operation)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Is matches ErrCollaboratorTimeout or ErrCollaboratorFailed depending on Timeout.
func (e *CollaboratorError) Is(target error) bool {
	if e.Timeout {
		return target == ErrCollaboratorTimeout
	}
	return target == ErrCollaboratorFailed
}

// NewCollaboratorError creates a CollaboratorError for a non-timeout failure.
func NewCollaboratorError(collaborator, operation string, err error) *CollaboratorError {
	return &CollaboratorError{
		Collaborator: collaborator,
		Operation:    operation,
		Err:          err,
	}
}

// NewCollaboratorTimeout creates a CollaboratorError flagged as a timeout.
func NewCollaboratorTimeout(collaborator, operation string, err error) *CollaboratorError {
	return &CollaboratorError{
		Collaborator: collaborator,
		Operation:    operation,
		Timeout:      true,
		Err:          err,
	}
}

// ConflictError reports a concurrent modification: a heartbeat already in
// progress, or a position whose row changed underneath the caller.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict [%s %s]: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConcurrencyConflict
}

// Is lets every ConflictError match ErrConcurrencyConflict even when it wraps a
// more specific sentinel.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// NewConflictError creates a new ConflictError.
func NewConflictError(resource, id, reason string) *ConflictError {
	return &ConflictError{
		Resource: resource,
		ID:       id,
		Reason:   reason,
	}
}

// NewHeartbeatRunningError reports a second heartbeat for a trader that already
// has one in progress.
func NewHeartbeatRunningError(traderID string) *ConflictError {
	return &ConflictError{
		Resource: "heartbeat",
		ID:       traderID,
		Reason:   ErrHeartbeatRunning.Error(),
		Err:      ErrHeartbeatRunning,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
