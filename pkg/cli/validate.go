package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/visual-runner/pkg/actions"
	"github.com/devicelab-dev/visual-runner/pkg/config"
	"github.com/devicelab-dev/visual-runner/pkg/flow"
	"github.com/devicelab-dev/visual-runner/pkg/plugin"
	"github.com/devicelab-dev/visual-runner/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check test configurations without running them",
	ArgsUsage: "[config-file-or-folder]...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment variables (KEY=VALUE)",
		},
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only check configs with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Skip configs with these tags",
		},
	},
	Action: runValidate,
}

func runValidate(c *cli.Context) error {
	ws, err := loadWorkspace(c)
	if err != nil {
		return err
	}
	out := c.App.Writer

	templates, err := flow.NewDirStore(ws.Resolve(ws.Templates))
	if err != nil {
		return err
	}
	registry := actions.NewBuiltinRegistry()
	if _, err := plugin.Register(registry, ws.Resolve(ws.Plugins)); err != nil {
		fmt.Fprintf(out, "  %s✗%s plugins: %v\n", color(colorRed), color(colorReset), err)
	}

	v := &validator.Validator{
		Templates:   templates,
		Actions:     registry,
		Env:         config.SnapshotEnv(ws.Env, parseEnvVars(c.StringSlice("env"))),
		IncludeTags: ws.IncludeTags,
		ExcludeTags: ws.ExcludeTags,
	}
	if c.IsSet("include-tags") {
		v.IncludeTags = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		v.ExcludeTags = c.StringSlice("exclude-tags")
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = []string{ws.Resolve(ws.Tests)}
	}
	result := v.Validate(paths...)

	for _, err := range result.Errors {
		fmt.Fprintf(out, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
	}
	if !result.IsValid() {
		return cli.Exit(fmt.Sprintf("%d problem(s) found", len(result.Errors)), 1)
	}
	fmt.Fprintf(out, "  %s✓%s %d config(s), %d unit(s), %d template(s), %d action(s)\n",
		color(colorGreen), color(colorReset), len(result.Configs), result.Units, templates.Count(), registry.Count())
	return nil
}
