package core

import (
	"errors"
	"fmt"
)

// ExecutionError is a structured runtime failure raised while dispatching an
// action. It is reported through the item's reply, never thrown past the run.
type ExecutionError struct {
	Category ErrorCategory
	Code     string         // machine-readable: element_not_found, timeout, ...
	Message  string         // human-readable
	Details  map[string]any // extra context for reporters
	Cause    error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches another ExecutionError by code so that copies made with the
// With* helpers still match the predefined value.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	c := *e
	c.Cause = cause
	return &c
}

// WithMessage returns a copy of the error with a custom message.
func (e *ExecutionError) WithMessage(format string, args ...any) *ExecutionError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// WithDetails returns a copy of the error with details merged in.
func (e *ExecutionError) WithDetails(details map[string]any) *ExecutionError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	c := *e
	c.Details = merged
	return &c
}

// Predefined runtime failures.
var (
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "no element matches the selector",
	}
	ErrCountMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "count_mismatch",
		Message:  "match count differs from the expected count",
	}
	ErrTextMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_mismatch",
		Message:  "value does not match expected text",
	}

	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	ErrDriverUnavailable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "driver_unavailable",
		Message:  "no driver is attached to the session",
	}
	ErrInteractionFailed = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "interaction_failed",
		Message:  "driver rejected the interaction",
	}

	ErrScriptFailed = &ExecutionError{
		Category: ErrCategoryScript,
		Code:     "script_failed",
		Message:  "script evaluation failed",
	}

	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates an ExecutionError.
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{Category: category, Code: code, Message: message}
}

// InvalidArgumentsError reports bad arguments to a public operation, such as
// an unknown run type or a malformed path pattern.
type InvalidArgumentsError struct {
	Op     string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("%s: invalid arguments: %s", e.Op, e.Reason)
}
