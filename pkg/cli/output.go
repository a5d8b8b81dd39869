package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/executor"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold
const slowThreshold = 5 * time.Second

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// progress prints live unit output. Units of a batch finish on different
// goroutines, so every line is prefixed with its unit and written under a lock.
type progress struct {
	mu      sync.Mutex
	out     io.Writer
	total   int
	started int
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out}
}

func (p *progress) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *progress) onUnitStart(u *executor.Unit, attempt int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if attempt == 1 {
		p.started++
		fmt.Fprintf(p.out, "  %s[%d]%s %s%s%s (%s)\n",
			color(colorCyan), p.started, color(colorReset),
			color(colorBold), u.ID, color(colorReset), strings.Join(u.TemplateIDs(), " → "))
		return
	}
	fmt.Fprintf(p.out, "  %s↻%s %s attempt %d\n", color(colorYellow), color(colorReset), u.ID, attempt)
}

func (p *progress) onStepComplete(u *executor.Unit, idx int, desc string, result *core.CommandResult) {
	durStr := formatDuration(result.Duration)
	switch {
	case !result.Success:
		p.printf("    %s✗%s %s %s (%s)\n", color(colorRed), color(colorReset), u.ID, desc, durStr)
		p.printf("      %s╰─%s %s\n", color(colorGray), color(colorReset), result.Message)
	case result.Skipped:
		p.printf("    %s-%s %s %s %s(skipped)%s\n", color(colorGray), color(colorReset), u.ID, desc, color(colorGray), color(colorReset))
	case result.Warning != "":
		p.printf("    %s⚠%s %s %s (%s)\n", color(colorYellow), color(colorReset), u.ID, desc, durStr)
		p.printf("      %s╰─%s %s\n", color(colorGray), color(colorReset), result.Warning)
	case result.Duration >= slowThreshold:
		p.printf("    %s⚠%s %s %s %s(%s)%s\n", color(colorYellow), color(colorReset), u.ID, desc, color(colorYellow), durStr, color(colorReset))
	default:
		p.printf("    %s✓%s %s %s (%s)\n", color(colorGreen), color(colorReset), u.ID, desc, durStr)
	}
}

func (p *progress) onAttemptFailed(u *executor.Unit, attempt int, errMsg string) {
	p.printf("  %s✗%s %s attempt %d failed: %s\n", color(colorRed), color(colorReset), u.ID, attempt, errMsg)
}

func (p *progress) onUnitEnd(res *core.Result) {
	switch res.Status {
	case core.StatusPassed:
		flaky := ""
		if res.Flaky {
			flaky = " (flaky)"
		}
		p.printf("%s✓ %s%s%s %s%s%s\n",
			color(colorGreen), color(colorReset), res.ID, flaky, color(colorGray), formatDuration(res.Duration), color(colorReset))
	case core.StatusSkipped:
		p.printf("%s- %s%s %s%s%s\n", color(colorCyan), color(colorReset), res.ID, color(colorGray), res.Error, color(colorReset))
	default:
		p.printf("%s✗ %s%s %s%s%s\n",
			color(colorRed), color(colorReset), res.ID, color(colorGray), formatDuration(res.Duration), color(colorReset))
	}
}

func printSummary(out io.Writer, result *executor.RunResult) {
	const tableWidth = 92
	s := result.Summary

	fmt.Fprintln(out)
	if s.Passed > 0 {
		fmt.Fprintf(out, "  %s%d passing%s (%s)\n", color(colorGreen), s.Passed, color(colorReset), formatDuration(s.Elapsed))
	}
	if s.Failed > 0 {
		fmt.Fprintf(out, "  %s%d failing%s\n", color(colorRed), s.Failed, color(colorReset))
	}
	if s.Skipped > 0 {
		fmt.Fprintf(out, "  %s%d skipped%s\n", color(colorCyan), s.Skipped, color(colorReset))
	}
	if s.Flaky > 0 {
		fmt.Fprintf(out, "  %s%d flaky%s\n", color(colorYellow), s.Flaky, color(colorReset))
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, strings.Repeat("═", tableWidth))
	fmt.Fprintf(out, "  %-44s %6s %8s %10s  %s\n", "Unit", "Status", "Attempts", "Duration", "Category")
	fmt.Fprintln(out, strings.Repeat("─", tableWidth))

	for _, r := range result.Results {
		var status, statusColor string
		switch r.Status {
		case core.StatusFailed:
			status, statusColor = "✗ FAIL", color(colorRed)
		case core.StatusSkipped:
			status, statusColor = "- SKIP", color(colorCyan)
		default:
			status, statusColor = "✓ PASS", color(colorGreen)
		}

		name := r.ID
		if len(name) > 44 {
			name = name[:41] + "..."
		}
		category := ""
		if r.Category != core.ErrCategoryNone {
			category = r.Category.String()
		}
		fmt.Fprintf(out, "  %-44s %s%6s%s %8s %10s  %s\n",
			name, statusColor, status, color(colorReset),
			fmt.Sprintf("%d/%d", r.Attempts, r.MaxAttempts), formatDuration(r.Duration), category)
	}

	fmt.Fprintln(out, strings.Repeat("─", tableWidth))
	statusColor := color(colorGreen)
	if s.Failed > 0 {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(out, "  %s%-44s%s %s%6s%s %8s %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, fmt.Sprintf("%d/%d", s.Passed, s.Total), color(colorReset),
		"", formatDuration(s.Elapsed))
	fmt.Fprintln(out, strings.Repeat("═", tableWidth))

	for _, r := range result.Results {
		if r.Status != core.StatusFailed {
			continue
		}
		fmt.Fprintf(out, "\n  %s%s%s\n    %s\n", color(colorBold), r.ID, color(colorReset), r.Error)
		if r.DiffPath != "" {
			fmt.Fprintf(out, "    diff: %s\n", r.DiffPath)
		}
		if r.ScreenshotPath != "" {
			fmt.Fprintf(out, "    screenshot: %s\n", r.ScreenshotPath)
		}
	}
}

// formatDuration shows milliseconds below one second, seconds below a
// minute and minutes above.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
