package actions

import (
	"fmt"

	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

// screenshot captures the page and checks it against the baseline for name.
func screenshot(sc *Context, params []string) *core.CommandResult {
	name := param(params, 0)
	if name == "" {
		return skipped(ActionScreenshot)
	}
	if sc.Visual == nil {
		return core.Failed(core.ErrInvalidConfig.WithMessage("screenshot: no snapshot store configured"))
	}

	png, err := sc.Session.Screenshot()
	if err != nil {
		return core.Failed(err)
	}
	check, err := sc.Visual.Check(name, png)
	if err != nil {
		return core.Failed(core.ErrActionFailed.WithMessagef("snapshot %s", name).WithCause(err))
	}
	sc.State.Visual = append(sc.State.Visual, check)

	switch check.Outcome {
	case visual.OutcomeMismatch:
		r := core.Failed(core.ErrVisualMismatch.
			WithMessagef("snapshot %s: %d pixels differ from baseline", name, check.DiffPixels).
			WithDetails(map[string]interface{}{"diff": check.DiffPath, "actual": check.ActualPath}))
		r.Data = check
		return r
	case visual.OutcomeNewBaseline:
		msg := fmt.Sprintf("snapshot %s: new baseline", name)
		sc.State.Warn(msg)
		r := core.Succeeded(msg)
		r.Warning = msg
		r.Data = check
		return r
	case visual.OutcomeIndeterminate:
		msg := fmt.Sprintf("snapshot %s: not compared: %v", name, check.Reason)
		sc.State.Warn(msg)
		r := core.Succeeded(msg)
		r.Warning = msg
		r.Data = check
		return r
	default:
		r := core.Succeeded(fmt.Sprintf("snapshot %s matches", name))
		r.Data = check
		return r
	}
}
