package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devicelab-dev/visual-runner/pkg/actions"
	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/driver"
	"github.com/devicelab-dev/visual-runner/pkg/interpreter"
	"github.com/devicelab-dev/visual-runner/pkg/logger"
	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

// attempt is the outcome of running a unit once in a fresh session.
type attempt struct {
	failure    *core.CommandResult // nil on success
	failedStep int                 // 1-based across all templates
	screenshot []byte              // captured at failure time
	state      *actions.State
}

func (a *attempt) err() error {
	if a.failure == nil {
		return nil
	}
	return a.failure.Error
}

// runUnit executes u with up to 1+MaxRetries attempts and returns its one result.
func (r *Runner) runUnit(ctx context.Context, u *Unit) core.Result {
	maxAttempts := r.config.MaxRetries + 1
	res := r.newResult(u)
	res.MaxAttempts = maxAttempts
	start := timeNow()
	log := logger.WithFields(map[string]interface{}{"unit": u.ID})

	var last *attempt
	for n := 1; n <= maxAttempts; n++ {
		if ctx.Err() != nil {
			if last == nil {
				return r.skipped(u, "run cancelled")
			}
			break
		}
		res.Attempts = n
		recordAttempt(n)
		if r.config.OnUnitStart != nil {
			r.config.OnUnitStart(u, n)
		}

		last = r.runAttempt(ctx, u, n)
		if last.failure == nil {
			res.Status = core.StatusPassed
			res.Flaky = n > 1
			break
		}

		category := last.failure.Category()
		recordAttemptFailure(category)
		log.WithField("attempt", n).Warnf("attempt failed: %s", last.failure.Message)
		if r.config.OnAttemptFailed != nil {
			r.config.OnAttemptFailed(u, n, last.failure.Message)
		}
		if n == maxAttempts || !category.Retryable() {
			break
		}
		res.RetryErrors = append(res.RetryErrors, last.failure.Message)
		r.discardDiffs(u, last)
	}

	res.Duration = timeNow().Sub(start)
	if last != nil && last.state != nil {
		res.Warnings = last.state.Warnings
		res.Perf = last.state.Perf()
	}
	if res.Status != core.StatusPassed {
		r.recordFailure(&res, u, last)
	}
	return res
}

// runAttempt opens a session, runs every step of every template in order
// and always closes the session. A failing step is followed by a screenshot
// while the session is still open; whether it is kept depends on whether
// the attempt turns out to be the last one.
func (r *Runner) runAttempt(ctx context.Context, u *Unit, n int) *attempt {
	opts := driver.SessionOptions{
		Device:  u.Config.Device,
		Timeout: r.config.Timeout,
		UnitID:  u.ID,
		Attempt: n,
	}
	if vp := u.Config.Viewport; vp != nil {
		opts.Width, opts.Height = vp.Width, vp.Height
	}

	session, err := r.browser.NewSession(opts)
	if err != nil {
		return &attempt{failure: core.Failed(core.ErrSessionFailed.WithCause(err))}
	}
	recordSessionOpen()
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("unit %s: close session: %v", u.ID, err)
		}
		recordSessionClose()
	}()

	sc := &actions.Context{
		Ctx:     ctx,
		Session: session,
		State:   actions.NewState(),
		Visual:  r.visual,
		HTTP:    r.config.HTTPClient,
		UnitID:  u.ID,
		Timeout: r.config.Timeout,
	}

	idx := 0
	for _, tpl := range u.Templates {
		for _, step := range tpl.Steps {
			idx++
			result := r.interp.Execute(sc, step, u.Params)
			if r.config.OnStepComplete != nil {
				r.config.OnStepComplete(u, idx, interpreter.Describe(step, u.Params, r.config.Env), result)
			}
			if result.Warning != "" {
				logger.Warn("unit %s: %s", u.ID, result.Warning)
			}
			if result.Success {
				continue
			}

			out := &attempt{failure: result, failedStep: idx, state: sc.State}
			out.failure.Message = fmt.Sprintf("%s (template %s, step %d)", result.Message, tpl.ID, idx)
			png, err := session.Screenshot()
			if err != nil {
				logger.Warn("unit %s: failure screenshot: %v", u.ID, err)
			} else {
				out.screenshot = png
			}
			return out
		}
	}
	return &attempt{state: sc.State}
}

// discardDiffs removes the diff images of an attempt that is about to be
// retried. Only the final attempt's diff is referenced by the result.
func (r *Runner) discardDiffs(u *Unit, a *attempt) {
	if r.visual == nil || a.state == nil {
		return
	}
	for _, check := range a.state.Visual {
		if check.DiffPath == "" {
			continue
		}
		if err := r.visual.Store.RemoveDiff(check.DiffPath); err != nil {
			logger.Warn("unit %s: remove superseded diff: %v", u.ID, err)
		}
	}
}

// recordFailure fills in the failure fields of res from the last attempt.
func (r *Runner) recordFailure(res *core.Result, u *Unit, last *attempt) {
	res.Status = core.StatusFailed
	if last == nil || last.failure == nil {
		return
	}
	res.Error = last.failure.Message
	res.Category = last.failure.Category()
	res.FailedStep = last.failedStep

	if last.screenshot != nil {
		path, err := r.saveScreenshot(u.ID, last.screenshot)
		if err != nil {
			logger.Warn("unit %s: save failure screenshot: %v", u.ID, err)
		} else {
			res.ScreenshotPath = path
		}
	}

	if errors.Is(last.err(), core.ErrVisualMismatch) {
		if check := last.state.LastVisual(); check != nil {
			res.DiffPath = check.DiffPath
			res.BaselinePath = check.BaselinePath
		}
		return
	}
	r.enrich(res, u, last.screenshot)
}

// enrich attaches a diff of the failure screenshot against the configured
// snapshot baseline. Failures here are logged and never change the result.
func (r *Runner) enrich(res *core.Result, u *Unit, png []byte) {
	name := u.Config.Snapshot
	if name == "" || png == nil || r.visual == nil {
		return
	}
	check, err := r.visual.Enrich(name, png)
	switch {
	case errors.Is(err, visual.ErrBaselineNotFound):
		logger.Debug("unit %s: no baseline %s to diff against", u.ID, name)
	case err != nil:
		logger.Warn("unit %s: diff against %s: %v", u.ID, name, err)
	case check != nil:
		res.DiffPath = check.DiffPath
		res.BaselinePath = check.BaselinePath
	}
}

func (r *Runner) saveScreenshot(unitID string, png []byte) (string, error) {
	dir := filepath.Join(r.config.OutputDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, core.ArtifactName(unitID, timeNow(), ".png"))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Runner) newResult(u *Unit) core.Result {
	return core.Result{
		ID:        u.ID,
		ConfigID:  u.Config.ID,
		Name:      u.Config.DisplayName(),
		Templates: u.TemplateIDs(),
		RowIndex:  u.RowIndex,
		Tags:      u.Config.Tags,
		Status:    core.StatusRunning,
		Timestamp: timeNow(),
	}
}

// skipped is the result for a unit that never ran.
func (r *Runner) skipped(u *Unit, reason string) core.Result {
	res := r.newResult(u)
	res.Status = core.StatusSkipped
	res.MaxAttempts = r.config.MaxRetries + 1
	res.Error = reason
	return res
}
