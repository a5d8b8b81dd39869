package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/visual-runner/pkg/approval"
	"github.com/devicelab-dev/visual-runner/pkg/config"
	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

var approveCommand = &cli.Command{
	Name:      "approve",
	Usage:     "Review pending snapshots and update baselines",
	ArgsUsage: "[snapshot-name]...",
	Description: `Walk the snapshots whose latest capture differs from the baseline.
Each one is approved (the capture becomes the baseline), rejected (the
capture is deleted) or skipped (left pending). Decisions are saved as they
are made.

Examples:
  visual-runner approve
  visual-runner approve home-hero checkout-summary
  visual-runner approve --all approve`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "all",
			Usage: "Apply one decision to every pending snapshot (approve, reject)",
		},
	},
	Action: runApprove,
}

var pendingCommand = &cli.Command{
	Name:   "pending",
	Usage:  "List snapshots awaiting approval",
	Action: runPending,
}

func snapshotStore(ws *config.Config) *visual.Store {
	return visual.NewStore(ws.Resolve(ws.Baselines), ws.Resolve(ws.Actuals), ws.Resolve(ws.Diffs))
}

func runApprove(c *cli.Context) error {
	ws, err := loadWorkspace(c)
	if err != nil {
		return err
	}
	out := c.App.Writer

	var decider approval.Decider = approval.NewPrompt(c.App.Reader, out)
	if c.IsSet("all") {
		d, err := approval.ParseDecision(strings.ToLower(c.String("all")))
		if err != nil {
			return err
		}
		decider = approval.Always(d)
	}

	wf := &approval.Workflow{
		Store:   snapshotStore(ws),
		Decider: decider,
		Names:   c.Args().Slice(),
		OnApply: func(item approval.Item) {
			mark := color(colorGray) + "-"
			switch item.Decision {
			case approval.Approve:
				mark = color(colorGreen) + "✓"
			case approval.Reject:
				mark = color(colorRed) + "✗"
			}
			fmt.Fprintf(out, "  %s%s %s %s\n", mark, color(colorReset), item.Pending.Name, item.Decision)
		},
	}

	summary, err := wf.Run(c.Context)
	if summary != nil {
		if summary.Total() == 0 && err == nil {
			fmt.Fprintln(out, "No pending snapshots.")
			return nil
		}
		fmt.Fprintf(out, "\n  %d approved, %d rejected, %d skipped\n",
			len(summary.Approved), len(summary.Rejected), len(summary.Deferred))
	}
	return err
}

func runPending(c *cli.Context) error {
	ws, err := loadWorkspace(c)
	if err != nil {
		return err
	}
	out := c.App.Writer

	pending, err := snapshotStore(ws).ListPending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending snapshots.")
		return nil
	}

	for _, p := range pending {
		fmt.Fprintf(out, "  %s%s%s  %s\n", color(colorBold), p.Name, color(colorReset), p.CapturedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "    actual:   %s\n", p.ActualPath)
		if p.BaselinePath != "" {
			fmt.Fprintf(out, "    baseline: %s\n", p.BaselinePath)
		} else {
			fmt.Fprintf(out, "    baseline: %s(missing)%s\n", color(colorYellow), color(colorReset))
		}
		if p.DiffPath != "" {
			fmt.Fprintf(out, "    diff:     %s\n", p.DiffPath)
		}
	}
	fmt.Fprintf(out, "\n  %d pending\n", len(pending))
	return nil
}
