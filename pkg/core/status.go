package core

import "fmt"

// Status represents the execution status of a step or run unit
type Status int

const (
	StatusPending Status = iota // Not yet started
	StatusRunning               // Currently executing
	StatusPassed                // Completed successfully
	StatusFailed                // Final attempt failed
	StatusSkipped               // Never attempted (filtered or run cancelled)
)

// String returns the report label for the status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusPassed:
		return "PASS"
	case StatusFailed:
		return "FAIL"
	case StatusSkipped:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status as its label so JSON reports stay readable.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status label written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{StatusPending, StatusRunning, StatusPassed, StatusFailed, StatusSkipped} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// IsTerminal returns true if the status is a final state
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success
func (s Status) IsSuccess() bool {
	return s == StatusPassed
}

// ErrorCategory classifies the type of error for retry decisions and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Text, URL, status or body check failed
	ErrCategoryTimeout                         // Operation timed out
	ErrCategoryConnection                      // Browser or HTTP transport failure
	ErrCategoryAction                          // Action could not be performed (click, fill, plugin)
	ErrCategoryVisual                          // Screenshot differs from baseline, or comparison indeterminate
	ErrCategoryConfig                          // Missing template, bad data file, undefined env var
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryAction:
		return "action"
	case ErrCategoryVisual:
		return "visual"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// MarshalText encodes the category name.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a category name written by MarshalText.
func (c *ErrorCategory) UnmarshalText(b []byte) error {
	for v := ErrCategoryNone; v <= ErrCategoryConfig; v++ {
		if v.String() == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown error category %q", string(b))
}

// Retryable reports whether another attempt could change the outcome.
// Configuration problems are deterministic.
func (c ErrorCategory) Retryable() bool {
	return c != ErrCategoryConfig && c != ErrCategoryNone
}
