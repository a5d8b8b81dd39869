package actions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

// Built-in action names.
const (
	ActionNavigate      = "navigate"
	ActionFill          = "fill"
	ActionClick         = "click"
	ActionAssertVisible = "assertVisible"
	ActionAssertText    = "assertText"
	ActionAssertURL     = "assertUrl"
	ActionWait          = "wait"
	ActionRequest       = "request"
	ActionAssertStatus  = "assertStatus"
	ActionAssertBody    = "assertBody"
	ActionPerf          = "perf"
	ActionScreenshot    = "screenshot"
)

// Builtins returns the built-in actions.
func Builtins() []*Action {
	builtin := func(name, usage, desc string, h HandlerFunc) *Action {
		return &Action{Name: name, Usage: usage, Description: desc, Handler: h, Builtin: true}
	}
	return []*Action{
		builtin(ActionNavigate, "navigate <url>", "Load a page", navigate),
		builtin(ActionFill, "fill <selector> <value>", "Type into an input", fill),
		builtin(ActionClick, "click <selector>", "Click an element", click),
		builtin(ActionAssertVisible, "assertVisible <text>", "Wait until text is visible", assertVisible),
		builtin(ActionAssertText, "assertText <selector> <expected>", "Element text contains expected", assertText),
		builtin(ActionAssertURL, "assertUrl <pattern>", "Current URL matches a regular expression", assertURL),
		builtin(ActionWait, "wait <ms>", "Sleep for a fixed delay", wait),
		builtin(ActionRequest, "request [method] <url> [body] [headers-json]", "Send an HTTP request", request),
		builtin(ActionAssertStatus, "assertStatus <code>", "Last response has status", assertStatus),
		builtin(ActionAssertBody, "assertBody <substring>", "Last response body contains substring", assertBody),
		builtin(ActionPerf, "perf <url> [iterations] [max-avg-ms]", "Measure page load latency", perf),
		builtin(ActionScreenshot, "screenshot <name>", "Compare the page with its baseline", screenshot),
	}
}

// param returns params[i] or "".
func param(params []string, i int) string {
	if i < len(params) {
		return params[i]
	}
	return ""
}

func skipped(action string) *core.CommandResult {
	return core.SkippedResult(action + " skipped: empty parameter")
}

func navigate(sc *Context, params []string) *core.CommandResult {
	url := param(params, 0)
	if url == "" {
		return skipped(ActionNavigate)
	}
	if err := sc.Session.Navigate(url); err != nil {
		return core.Failed(err)
	}
	return core.Succeeded("navigated to " + url)
}

func fill(sc *Context, params []string) *core.CommandResult {
	selector := param(params, 0)
	if selector == "" {
		return skipped(ActionFill)
	}
	if err := sc.Session.Fill(selector, param(params, 1)); err != nil {
		return core.Failed(err)
	}
	return core.Succeeded("filled " + selector)
}

func click(sc *Context, params []string) *core.CommandResult {
	selector := param(params, 0)
	if selector == "" {
		return skipped(ActionClick)
	}
	if err := sc.Session.Click(selector); err != nil {
		return core.Failed(err)
	}
	return core.Succeeded("clicked " + selector)
}

func assertVisible(sc *Context, params []string) *core.CommandResult {
	text := param(params, 0)
	if text == "" {
		return skipped(ActionAssertVisible)
	}
	if err := sc.Session.WaitForText(text, sc.Timeout); err != nil {
		return core.Failed(core.ErrTextNotVisible.WithMessagef("text %q not visible", text).WithCause(err))
	}
	return core.Succeeded(fmt.Sprintf("%q is visible", text))
}

func assertText(sc *Context, params []string) *core.CommandResult {
	selector := param(params, 0)
	if selector == "" {
		return skipped(ActionAssertText)
	}
	expected := param(params, 1)
	actual, err := sc.Session.TextContent(selector)
	if err != nil {
		return core.Failed(err)
	}
	if !strings.Contains(actual, expected) {
		return core.Failed(core.ErrTextMismatch.
			WithMessagef("%s: expected text containing %q, got %q", selector, expected, actual).
			WithDetails(map[string]interface{}{"selector": selector, "expected": expected, "actual": actual}))
	}
	return core.Succeeded(fmt.Sprintf("%s contains %q", selector, expected))
}

func assertURL(sc *Context, params []string) *core.CommandResult {
	pattern := param(params, 0)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return core.Failed(core.ErrInvalidParams.WithMessagef("invalid url pattern %q", pattern).WithCause(err))
	}
	url := sc.Session.URL()
	if !re.MatchString(url) {
		return core.Failed(core.ErrURLMismatch.WithMessagef("url %q does not match %q", url, pattern))
	}
	return core.Succeeded("url matches " + pattern)
}

func wait(sc *Context, params []string) *core.CommandResult {
	ms, err := strconv.Atoi(param(params, 0))
	if err != nil || ms < 0 {
		return core.Failed(core.ErrInvalidParams.WithMessagef("wait: invalid delay %q", param(params, 0)))
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return core.Succeeded(fmt.Sprintf("waited %dms", ms))
	case <-sc.context().Done():
		return core.Failed(core.ErrTimeout.WithMessage("wait interrupted").WithCause(sc.context().Err()))
	}
}

// perf loads url repeatedly and records the latency of each load.
func perf(sc *Context, params []string) *core.CommandResult {
	url := param(params, 0)
	if url == "" {
		return core.Failed(core.ErrInvalidParams.WithMessage("perf: url is required"))
	}
	iterations := 5
	if v := param(params, 1); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return core.Failed(core.ErrInvalidParams.WithMessagef("perf: invalid iterations %q", v))
		}
		iterations = n
	}
	var budget time.Duration
	if v := param(params, 2); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return core.Failed(core.ErrInvalidParams.WithMessagef("perf: invalid budget %q", v))
		}
		budget = time.Duration(ms) * time.Millisecond
	}

	samples := make([]time.Duration, 0, iterations)
	for i := 0; i < iterations; i++ {
		if err := sc.context().Err(); err != nil {
			return core.Failed(core.ErrTimeout.WithMessage("perf interrupted").WithCause(err))
		}
		start := time.Now()
		if err := sc.Session.Navigate(url); err != nil {
			return core.Failed(err)
		}
		samples = append(samples, time.Since(start))
	}
	sc.State.PerfSamples = append(sc.State.PerfSamples, samples...)

	stats := core.ComputePerfStats(samples)
	result := core.Succeeded(fmt.Sprintf("%s: %d loads, avg %s, min %s, max %s",
		url, stats.Count, stats.Average, stats.Min, stats.Max))
	result.Data = stats
	if budget > 0 && stats.Average > budget {
		result = core.Failed(core.ErrPerfBudget.WithMessagef("%s: average %s exceeds %s", url, stats.Average, budget))
		result.Data = stats
	}
	return result
}
