package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of triage failure.
type ErrorCode string

const (
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"    // fatal at startup
	ErrExecutionTimeout ErrorCode = "EXECUTION_TIMEOUT" // engine exceeded its deadline (retryable)
	ErrExecutionFailed  ErrorCode = "EXECUTION_FAILED"  // external call failed after retries
	ErrNotifyFailed     ErrorCode = "NOTIFY_FAILED"     // escalation channel rejected the message
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrInternal         ErrorCode = "INTERNAL"
)

// TriageError is a structured error with a code and optional details.
type TriageError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	// Status carries an upstream HTTP status when one is known.
	Status int
}

// Error implements the error interface.
func (e *TriageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus exposes the upstream status code to retry conditions.
func (e *TriageError) HTTPStatus() int {
	return e.Status
}

// NewConfigInvalid aggregates every configuration problem into one error.
func NewConfigInvalid(problems []string) *TriageError {
	return &TriageError{
		Code:    ErrConfigInvalid,
		Message: fmt.Sprintf("invalid configuration (%d problems): %s", len(problems), strings.Join(problems, "; ")),
		Details: map[string]any{"problems": problems},
	}
}

// NewExecutionTimeout reports an engine call that exceeded its deadline.
func NewExecutionTimeout(command string, limit time.Duration) *TriageError {
	return &TriageError{
		Code:    ErrExecutionTimeout,
		Message: fmt.Sprintf("ETIMEDOUT: %s exceeded %s", command, limit),
		Details: map[string]any{"command": command, "limit": limit.String()},
	}
}

// NewExecutionFailed reports an external call that failed.
func NewExecutionFailed(msg string, cause error) *TriageError {
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &TriageError{
		Code:    ErrExecutionFailed,
		Message: msg,
	}
}

// NewNotifyFailed reports an escalation channel failure with its HTTP status.
func NewNotifyFailed(channel string, status int, body string) *TriageError {
	return &TriageError{
		Code:    ErrNotifyFailed,
		Status:  status,
		Message: fmt.Sprintf("notify %s: status %d: %s", channel, status, body),
		Details: map[string]any{"channel": channel, "status": status},
	}
}

// NewNotFound creates an error for a missing entity.
func NewNotFound(kind, identifier string) *TriageError {
	return &TriageError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewInvalidRequest creates an error for bad caller input.
func NewInvalidRequest(msg string) *TriageError {
	return &TriageError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewInternal wraps an unexpected error.
func NewInternal(err error) *TriageError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &TriageError{
		Code:    ErrInternal,
		Message: msg,
	}
}

// Is reports whether any error in err's chain is a TriageError with the given code.
func Is(err error, code ErrorCode) bool {
	var tErr *TriageError
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}
