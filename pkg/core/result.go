package core

import (
	"time"
)

// PerfStats summarizes latency samples collected by a perf step
type PerfStats struct {
	Count   int           `json:"count"`
	Average time.Duration `json:"average"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
}

// ComputePerfStats aggregates samples. Returns nil when there are none.
func ComputePerfStats(samples []time.Duration) *PerfStats {
	if len(samples) == 0 {
		return nil
	}
	stats := &PerfStats{Count: len(samples), Min: samples[0], Max: samples[0]}
	var total time.Duration
	for _, s := range samples {
		total += s
		if s < stats.Min {
			stats.Min = s
		}
		if s > stats.Max {
			stats.Max = s
		}
	}
	stats.Average = total / time.Duration(len(samples))
	return stats
}

// Result captures the outcome of one run unit: a test configuration
// executed against one data row. Written exactly once per unit.
type Result struct {
	// Identity
	ID        string   `json:"id"`       // Unit id: <configID> or <configID>#<row>
	ConfigID  string   `json:"configId"` // Source test configuration
	Name      string   `json:"name"`
	Templates []string `json:"templates"` // Template ids executed in order
	RowIndex  int      `json:"rowIndex"`
	Tags      []string `json:"tags,omitempty"`

	// Status
	Status   Status        `json:"status"`
	Category ErrorCategory `json:"errorCategory,omitempty"`

	// Timing
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`

	// Retry tracking
	Attempts    int      `json:"attempts"`
	MaxAttempts int      `json:"maxAttempts"`
	RetryErrors []string `json:"retryErrors,omitempty"` // Errors from earlier attempts
	Flaky       bool     `json:"flaky,omitempty"`       // Passed after a failed attempt

	// Failure details
	Error          string `json:"error,omitempty"`
	FailedStep     int    `json:"failedStep,omitempty"` // 1-based position across all templates
	ScreenshotPath string `json:"screenshotPath,omitempty"`
	DiffPath       string `json:"diffPath,omitempty"`
	BaselinePath   string `json:"baselinePath,omitempty"`

	Warnings []string   `json:"warnings,omitempty"`
	Perf     *PerfStats `json:"perf,omitempty"`
}

// Attachments lists the image artifacts recorded on the result.
func (r *Result) Attachments() []Attachment {
	var out []Attachment
	if r.ScreenshotPath != "" {
		out = append(out, NewImageAttachment(AttachmentScreenshot, r.ScreenshotPath))
	}
	if r.DiffPath != "" {
		out = append(out, NewImageAttachment(AttachmentDiff, r.DiffPath))
	}
	if r.BaselinePath != "" {
		out = append(out, NewImageAttachment(AttachmentBaseline, r.BaselinePath))
	}
	return out
}

// Summary holds aggregate counts over a set of results
type Summary struct {
	Total   int           `json:"total"`
	Passed  int           `json:"passed"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	Flaky   int           `json:"flaky,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Summarize counts results by status.
func Summarize(results []Result, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Elapsed: elapsed}
	for _, r := range results {
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
		if r.Flaky {
			s.Flaky++
		}
	}
	return s
}

// Success returns true if nothing failed and at least one result exists
func (s Summary) Success() bool {
	return s.Failed == 0 && s.Total > 0
}
