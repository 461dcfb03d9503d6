// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFunnelNotFound indicates a funnel was not found by the given identifier.
	ErrFunnelNotFound = errors.New("funnel not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrActionLogNotFound indicates an action log entry was not found.
	ErrActionLogNotFound = errors.New("action log not found")

	// ErrContactNotFound indicates a contact was not found by the given identifier.
	ErrContactNotFound = errors.New("contact not found")

	// ErrInstanceNotFound indicates no messaging instance exists for the company.
	ErrInstanceNotFound = errors.New("messaging instance not found")
)

// FunnelError wraps funnel-related errors with additional context.
type FunnelError struct {
	Op       string // Operation being performed (e.g., "GetByID", "Save")
	FunnelID string
	Err      error
}

func (e *FunnelError) Error() string {
	return fmt.Sprintf("%s operation failed for funnel %s: %v", e.Op, e.FunnelID, e.Err)
}

func (e *FunnelError) Unwrap() error {
	return e.Err
}

func (e *FunnelError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFunnelError creates a new funnel error with context.
func NewFunnelError(op, funnelID string, err error) *FunnelError {
	return &FunnelError{Op: op, FunnelID: funnelID, Err: err}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsFunnelNotFound checks if an error indicates a funnel was not found.
func IsFunnelNotFound(err error) bool {
	return errors.Is(err, ErrFunnelNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsContactNotFound checks if an error indicates a contact was not found.
func IsContactNotFound(err error) bool {
	return errors.Is(err, ErrContactNotFound)
}
