package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation"  // Bad input to create/respond
	ErrCatCapacity   ErrorCategory = "capacity"    // Session already holds a live task
	ErrCatNotFound   ErrorCategory = "not_found"   // Unknown task or resource
	ErrCatNotWaiting ErrorCategory = "not_waiting" // Respond on a non-waiting task
	ErrCatSpawn      ErrorCategory = "spawn"       // Process failed to start
	ErrCatTimeout    ErrorCategory = "timeout"     // Deadline exceeded
	ErrCatProcess    ErrorCategory = "process"     // Abnormal exit without completion
	ErrCatCancelled  ErrorCategory = "cancelled"   // Cancelled by caller
	ErrCatState      ErrorCategory = "state"       // Invalid state transition
	ErrCatInternal   ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError is a structured error from the orchestration layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && (t.Code == "" || e.Code == t.Code)
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// ErrCapacity creates a capacity error for a session that already holds
// a non-terminal task.
func ErrCapacity(session SessionID, active TaskID) *DomainError {
	return &DomainError{
		Category: ErrCatCapacity,
		Code:     CodeSessionBusy,
		Message:  fmt.Sprintf("session %s already has active task %s", session, active),
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrNotWaiting creates the error for respond on a non-waiting task.
func ErrNotWaiting(id TaskID, status Status) *DomainError {
	return &DomainError{
		Category: ErrCatNotWaiting,
		Code:     CodeNotWaiting,
		Message:  fmt.Sprintf("task %s is %s, not waiting for input", id, status),
	}
}

// ErrAnswerNotPending reports an answer delivered while no question was
// pending. Used where the task's current status is not known.
func ErrAnswerNotPending(id TaskID) *DomainError {
	return &DomainError{
		Category: ErrCatNotWaiting,
		Code:     CodeNotWaiting,
		Message:  fmt.Sprintf("task %s has no pending question", id),
	}
}

// ErrSpawn creates a spawn error. Spawn errors are retried with backoff
// before being surfaced.
func ErrSpawn(message string) *DomainError {
	return &DomainError{Category: ErrCatSpawn, Code: CodeSpawnFailed, Message: message, Retryable: true}
}

// ErrTimeout creates a timeout error. Terminal for the task.
func ErrTimeout(message string) *DomainError {
	return &DomainError{Category: ErrCatTimeout, Code: CodeTimeout, Message: message}
}

// ErrProcess creates a process error for an abnormal exit.
func ErrProcess(code, message string) *DomainError {
	return &DomainError{Category: ErrCatProcess, Code: code, Message: message}
}

// ErrCancelled creates a cancellation error.
func ErrCancelled(message string) *DomainError {
	return &DomainError{Category: ErrCatCancelled, Code: CodeCancelled, Message: message}
}

// ErrState creates a state error for an invalid transition.
func ErrState(code, message string) *DomainError {
	return &DomainError{Category: ErrCatState, Code: code, Message: message}
}

// IsRetryable checks if an error may be retried.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes.
const (
	CodeSessionBusy       = "SESSION_BUSY"
	CodeNotFound          = "NOT_FOUND"
	CodeNotWaiting        = "NOT_WAITING"
	CodeSpawnFailed       = "SPAWN_FAILED"
	CodeTimeout           = "TIMEOUT"
	CodeCancelled         = "CANCELLED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTerminalTask      = "TERMINAL_TASK"

	// Validation error codes
	CodeEmptyGoal        = "EMPTY_GOAL"
	CodeGoalTooLong      = "GOAL_TOO_LONG"
	CodeUnknownWorkspace = "UNKNOWN_WORKSPACE"
	CodeUnknownHarness   = "UNKNOWN_HARNESS"
	CodeInvalidTimeout   = "INVALID_TIMEOUT"

	// Process error codes
	CodeNonZeroExit = "NON_ZERO_EXIT"
	CodeInterrupted = "INTERRUPTED"
)

// ReasonInterrupted is the reason string attached to tasks reconciled
// after a crash. Distinguishable from ordinary failures by callers.
const ReasonInterrupted = "interrupted: orchestrator restarted while task was in flight"

// MaxGoalLength is the maximum allowed goal length.
const MaxGoalLength = 100000
