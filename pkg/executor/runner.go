// Package executor schedules run units: it expands test configurations over
// their data rows, runs the units in fixed-size concurrent batches with
// per-unit retries and collects one result per unit.
package executor

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/visual-runner/pkg/config"
	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/data"
	"github.com/devicelab-dev/visual-runner/pkg/driver"
	"github.com/devicelab-dev/visual-runner/pkg/flow"
	"github.com/devicelab-dev/visual-runner/pkg/interpreter"
	"github.com/devicelab-dev/visual-runner/pkg/logger"
	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

var timeNow = time.Now

// RunnerConfig configures the scheduler.
type RunnerConfig struct {
	Concurrency int           // Units per batch (< 1 = 1)
	MaxRetries  int           // Extra attempts after a failure
	OutputDir   string        // Run directory; failure screenshots go to <OutputDir>/screenshots
	Env         config.Env    // Snapshot used for {{env.NAME}}
	Timeout     time.Duration // Element wait timeout per step
	HTTPClient  *http.Client  // For request steps and plugins
	RunID       string        // Generated when empty

	// Live progress callbacks. Called from unit goroutines.
	OnUnitStart     func(u *Unit, attempt int)
	OnStepComplete  func(u *Unit, idx int, desc string, result *core.CommandResult)
	OnAttemptFailed func(u *Unit, attempt int, err string)
	OnUnitEnd       func(res *core.Result)
}

// Deps are the collaborators a Runner executes against.
type Deps struct {
	Browser   driver.Browser
	Templates flow.TemplateStore
	Data      data.Source
	Actions   interpreter.Resolver
	Visual    *visual.Checker // nil disables screenshot steps and failure diffs
}

// RunResult contains the outcome of a test run.
type RunResult struct {
	RunID     string        `json:"runId"`
	Status    core.Status   `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Summary   core.Summary  `json:"summary"`
	Results   []core.Result `json:"results"`
}

// Runner orchestrates run unit execution.
type Runner struct {
	config    RunnerConfig
	browser   driver.Browser
	templates flow.TemplateStore
	data      data.Source
	interp    *interpreter.Interpreter
	visual    *visual.Checker
}

// New creates a new Runner.
func New(deps Deps, cfg RunnerConfig) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = driver.DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	return &Runner{
		config:    cfg,
		browser:   deps.Browser,
		templates: deps.Templates,
		data:      deps.Data,
		interp:    interpreter.New(deps.Actions, cfg.Env),
		visual:    deps.Visual,
	}
}

// Run executes every configuration and returns one result per run unit.
// Cancelling ctx stops the run at the next batch boundary or attempt; units
// that never started are recorded as skipped.
func (r *Runner) Run(ctx context.Context, configs []*flow.TestConfig) (*RunResult, error) {
	start := timeNow()
	exp := r.expand(configs)

	var col collector
	for _, e := range exp.failed {
		logger.Error("config %s: %s", e.result.ConfigID, e.result.Error)
		r.finish(&col, e.seq, e.result)
	}

	logger.Info("run %s: %d units from %d configs, batch size %d, retries %d",
		r.config.RunID, len(exp.units), len(configs), r.config.Concurrency, r.config.MaxRetries)

	for _, batch := range batches(exp.units, r.config.Concurrency) {
		if ctx.Err() != nil {
			for _, u := range batch {
				r.finish(&col, u.seq, r.skipped(u, "run cancelled"))
			}
			continue
		}
		r.runBatch(ctx, batch, &col)
	}

	results := col.results()
	elapsed := timeNow().Sub(start)
	summary := core.Summarize(results, elapsed)
	status := core.StatusPassed
	if summary.Failed > 0 {
		status = core.StatusFailed
	}
	logger.Info("run %s finished in %s: %d passed, %d failed, %d skipped",
		r.config.RunID, elapsed.Round(time.Millisecond), summary.Passed, summary.Failed, summary.Skipped)

	return &RunResult{
		RunID:     r.config.RunID,
		Status:    status,
		StartedAt: start,
		Summary:   summary,
		Results:   results,
	}, nil
}

// runBatch runs all units of a batch concurrently and waits for every one.
func (r *Runner) runBatch(ctx context.Context, batch []*Unit, col *collector) {
	var g errgroup.Group
	for _, u := range batch {
		u := u
		g.Go(func() error {
			r.finish(col, u.seq, r.runUnit(ctx, u))
			return nil
		})
	}
	_ = g.Wait() // unit failures are results, not errors
}

// finish records a terminal result exactly once.
func (r *Runner) finish(col *collector, seq int, res core.Result) {
	recordUnit(&res)
	col.add(seq, res)
	if r.config.OnUnitEnd != nil {
		r.config.OnUnitEnd(&res)
	}
}

// batches splits units into consecutive groups of size n.
func batches(units []*Unit, n int) [][]*Unit {
	if n < 1 {
		n = 1
	}
	var out [][]*Unit
	for i := 0; i < len(units); i += n {
		end := i + n
		if end > len(units) {
			end = len(units)
		}
		out = append(out, units[i:end])
	}
	return out
}
