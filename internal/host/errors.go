package host

import (
	"errors"
	"fmt"
)

// RuntimeError represents a fault in the host rather than a rejected vault
// call.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// SagaID identifies the affected withdrawal, if any.
	SagaID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQueueClosed indicates the host stopped before running the call.
	ErrCodeQueueClosed RuntimeErrorCode = "QUEUE_CLOSED"

	// ErrCodeSagaNotFound indicates a resolution for an unknown saga id.
	ErrCodeSagaNotFound RuntimeErrorCode = "SAGA_NOT_FOUND"

	// ErrCodeSagaPending indicates a withdrawal the host stopped retrying
	// before it settled. Its shares stay burned until Recover settles it.
	ErrCodeSagaPending RuntimeErrorCode = "SAGA_PENDING"

	// ErrCodeInvariantViolation indicates stored state that should be
	// impossible, such as a committed saga that refuses to resolve.
	ErrCodeInvariantViolation RuntimeErrorCode = "INVARIANT_VIOLATION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.SagaID != "" {
		return fmt.Sprintf("%s: %s (saga=%s)", e.Code, e.Message, e.SagaID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsQueueClosed returns true if the error reports a stopped host.
// Uses errors.As to handle wrapped errors.
func IsQueueClosed(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQueueClosed
	}
	return false
}

// IsSagaPending returns true if the error reports an unsettled withdrawal.
// Uses errors.As to handle wrapped errors.
func IsSagaPending(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeSagaPending
	}
	return false
}

// IsInvariantViolation returns true if the error reports corrupt state.
// Uses errors.As to handle wrapped errors.
func IsInvariantViolation(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeInvariantViolation
	}
	return false
}

// NewQueueClosedError creates a RuntimeError for a call submitted to, or
// left queued in, a stopped host.
func NewQueueClosedError(call string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQueueClosed,
		Message: fmt.Sprintf("host stopped before %s ran", call),
	}
}

// NewSagaNotFoundError creates a RuntimeError for an unknown saga.
func NewSagaNotFoundError(sagaID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeSagaNotFound,
		Message: "no withdrawal recorded for saga",
		SagaID:  sagaID,
	}
}

// NewSagaPendingError creates a RuntimeError for a withdrawal left
// committed. cause is the last error seen, if any.
func NewSagaPendingError(sagaID string, cause error) *RuntimeError {
	e := &RuntimeError{
		Code:    ErrCodeSagaPending,
		Message: "withdrawal not settled; left for recovery",
		SagaID:  sagaID,
	}
	if cause != nil {
		e.Details = map[string]string{"cause": cause.Error()}
	}
	return e
}

// NewInvariantError creates a RuntimeError for impossible stored state.
func NewInvariantError(sagaID, message string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvariantViolation,
		Message: message,
		SagaID:  sagaID,
	}
}
