package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: unknown_action, visual_mismatch, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches any ExecutionError carrying the same code, so copies made with
// WithCause or WithMessage still compare equal to the predefined errors.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok || t.Code == "" {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	c := *e
	c.Cause = cause
	return &c
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	c := *e
	c.Message = msg
	return &c
}

// WithMessagef is WithMessage with formatting.
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{}, len(e.Details)+len(details))
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

// Predefined errors
var (
	// Assertion errors
	ErrTextNotVisible = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_not_visible",
		Message:  "text not visible",
	}
	ErrTextMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_mismatch",
		Message:  "text does not contain expected value",
	}
	ErrURLMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "url_mismatch",
		Message:  "url does not match",
	}
	ErrStatusMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "status_mismatch",
		Message:  "unexpected response status",
	}
	ErrBodyMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "body_mismatch",
		Message:  "response body does not contain expected value",
	}
	ErrPerfBudget = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "perf_budget",
		Message:  "average latency over budget",
	}
	ErrNoResponse = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "no_response",
		Message:  "no response recorded; run a request step first",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	// Connection errors
	ErrSessionFailed = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "session_failed",
		Message:  "could not open browser session",
	}
	ErrRequestFailed = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "request_failed",
		Message:  "http request failed",
	}

	// Action errors
	ErrActionFailed = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "action_failed",
		Message:  "action failed",
	}
	ErrInvalidParams = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "invalid_params",
		Message:  "invalid action parameters",
	}
	ErrUnknownAction = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "unknown_action",
		Message:  "unknown action",
	}

	// Visual errors
	ErrVisualMismatch = &ExecutionError{
		Category: ErrCategoryVisual,
		Code:     "visual_mismatch",
		Message:  "screenshot differs from baseline",
	}
	ErrDimensionMismatch = &ExecutionError{
		Category: ErrCategoryVisual,
		Code:     "dimension_mismatch",
		Message:  "image dimensions differ",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrUndefinedEnv = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "undefined_env",
		Message:  "environment variable not defined",
	}
	ErrTemplateNotFound = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "template_not_found",
		Message:  "template not found",
	}
	ErrDataLoad = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "data_load",
		Message:  "could not load data rows",
	}
	ErrDuplicateAction = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "duplicate_action",
		Message:  "action already registered",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// AsExecutionError returns err as an *ExecutionError. Errors that carry no
// classification are treated as action failures.
func AsExecutionError(err error) *ExecutionError {
	if err == nil {
		return nil
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	return ErrActionFailed.WithMessage(err.Error())
}

// CategoryOf returns the category of err, or ErrCategoryNone for nil.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	return AsExecutionError(err).Category
}
