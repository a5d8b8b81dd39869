package core

import (
	"time"
)

// CommandResult represents the outcome of executing a single step
type CommandResult struct {
	// Core outcome
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`
	Warning string `json:"warning,omitempty"` // Non-fatal note, e.g. new baseline created

	// Generic data for action-specific results
	// Examples: response status, perf samples, diff path
	Data interface{} `json:"data,omitempty"`
}

// Succeeded builds a successful CommandResult.
func Succeeded(msg string) *CommandResult {
	return &CommandResult{Success: true, Message: msg}
}

// SkippedResult builds a successful result for a step that did nothing.
func SkippedResult(reason string) *CommandResult {
	return &CommandResult{Success: true, Skipped: true, Message: reason}
}

// Failed builds a failed CommandResult from err.
func Failed(err error) *CommandResult {
	return &CommandResult{Success: false, Error: err, Message: err.Error()}
}

// Category returns the error category of a failed result.
func (r *CommandResult) Category() ErrorCategory {
	if r == nil || r.Success {
		return ErrCategoryNone
	}
	return CategoryOf(r.Error)
}
