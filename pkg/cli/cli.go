// Package cli provides the command-line interface for visual-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/visual-runner/pkg/config"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to workspace visual-runner.yaml (default: search the current directory)",
		EnvVars: []string{"VISUAL_RUNNER_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"VISUAL_RUNNER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "visual-runner",
		Usage:   "Declarative UI and visual regression test runner",
		Version: Version,
		Description: `visual-runner executes declarative test configurations against a
browser, compares screenshots with approved baselines and reports the
results.

Examples:
  visual-runner run
  visual-runner run tests/checkout.yaml -e BASE_URL=http://localhost:3000
  visual-runner run --concurrency auto --retries 2
  visual-runner pending
  visual-runner approve --all approve`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			approveCommand,
			pendingCommand,
			validateCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadWorkspace loads --config, or looks for a workspace file in the
// current directory and falls back to defaults.
func loadWorkspace(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	return config.LoadFromDir(".")
}
