// Package report writes run reports.
//
// Layout of a report directory:
//   - report.json: the run index, rewritten atomically as units finish
//   - report.html: a static rendering of report.json
//   - allure-results/: optional Allure export
package report

import (
	"time"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// File names inside a report directory.
const (
	IndexFile = "report.json"
	HTMLFile  = "report.html"
	AllureDir = "allure-results"
)

// Index is the report.json document.
type Index struct {
	Version     string        `json:"version"`
	RunID       string        `json:"runId"`
	UpdateSeq   uint64        `json:"updateSeq"`
	Status      core.Status   `json:"status"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     *time.Time    `json:"endTime,omitempty"`
	LastUpdated time.Time     `json:"lastUpdated"`
	Runner      RunnerInfo    `json:"runner"`
	Summary     core.Summary  `json:"summary"`
	Units       []core.Result `json:"units"`
}

// RunnerInfo describes how the run was executed.
type RunnerInfo struct {
	Version     string `json:"version"`
	Browser     string `json:"browser"`
	Headless    bool   `json:"headless"`
	Concurrency int    `json:"concurrency"`
	Retries     int    `json:"retries"`
}
