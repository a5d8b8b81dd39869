package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/visual-runner/pkg/actions"
	"github.com/devicelab-dev/visual-runner/pkg/config"
	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/data"
	"github.com/devicelab-dev/visual-runner/pkg/driver"
	"github.com/devicelab-dev/visual-runner/pkg/driver/web"
	"github.com/devicelab-dev/visual-runner/pkg/executor"
	"github.com/devicelab-dev/visual-runner/pkg/flow"
	"github.com/devicelab-dev/visual-runner/pkg/logger"
	"github.com/devicelab-dev/visual-runner/pkg/plugin"
	"github.com/devicelab-dev/visual-runner/pkg/report"
	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run test configurations",
	ArgsUsage: "[config-file-or-folder]...",
	Description: `Run test configurations against a browser. Without arguments the
workspace tests directory is used.

Reports are generated in the output directory:
  - Default: <workspace output>/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  visual-runner run
  visual-runner run tests/login.yaml -e BASE_URL=http://localhost:3000
  visual-runner run tests/ --include-tags smoke --concurrency auto
  visual-runner run --browser firefox --retries 2 --allure`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment variables (KEY=VALUE)",
		},
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only run configs with these tags (glob patterns)",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Skip configs with these tags (glob patterns)",
		},
		&cli.StringFlag{
			Name:  "concurrency",
			Usage: `Units per batch: a positive integer or "auto" for the CPU count`,
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "Extra attempts for a failing unit",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},
		&cli.StringFlag{
			Name:  "browser",
			Usage: "Browser engine (chromium, firefox, webkit)",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "Run the browser without a window",
		},
		&cli.BoolFlag{
			Name:  "install",
			Usage: "Download the browser driver if it is missing",
		},
		&cli.StringFlag{
			Name:  "plugins",
			Usage: "Directory of JavaScript action plugins",
		},
		&cli.BoolFlag{
			Name:  "allure",
			Usage: "Also export allure-results",
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write run metrics in Prometheus text format to this file",
		},
	},
	Action: runTests,
}

// RunConfig holds the complete test run configuration.
type RunConfig struct {
	// Paths
	TestPaths     []string
	TemplatesDir  string
	PluginDirs    []string
	BaselinesDir  string
	ActualsDir    string
	DiffsDir      string
	OutputDir     string // Final resolved output directory
	MetricsFile   string
	AllureResults bool

	// Environment
	Env config.Env

	// Filtering
	IncludeTags []string
	ExcludeTags []string

	// Execution
	Concurrency int
	Retries     int
	Timeout     time.Duration

	// Browser
	Browser  string
	Headless bool
	Install  bool
	Verbose  bool
}

// launchBrowser starts the browser engine. Replaced in tests.
var launchBrowser = func(cfg web.Config) (driver.Browser, error) {
	engine, err := web.Launch(cfg)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func runTests(c *cli.Context) error {
	ws, err := loadWorkspace(c)
	if err != nil {
		return err
	}
	cfg, err := buildRunConfig(c, ws)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := executeRun(ctx, cfg)
	if err != nil {
		return err
	}
	if result.Status != core.StatusPassed {
		return cli.Exit("", 1)
	}
	return nil
}

// buildRunConfig merges workspace settings with flags. Flags win.
func buildRunConfig(c *cli.Context, ws *config.Config) (*RunConfig, error) {
	concurrency := ws.Concurrency
	if c.IsSet("concurrency") {
		concurrency = c.String("concurrency")
	}
	workers, err := config.ParseConcurrency(concurrency)
	if err != nil {
		return nil, err
	}

	retries := ws.Retries
	if c.IsSet("retries") {
		retries = c.Int("retries")
	}
	if retries < 0 {
		return nil, fmt.Errorf("--retries must be >= 0")
	}

	output := ws.Resolve(ws.Output)
	if c.IsSet("output") {
		output = c.String("output")
	}
	outputDir, err := resolveOutputDir(output, c.Bool("flatten"), c.IsSet("output"))
	if err != nil {
		return nil, err
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = []string{ws.Resolve(ws.Tests)}
	}

	pluginDirs := []string{ws.Resolve(ws.Plugins)}
	if c.IsSet("plugins") {
		pluginDirs = []string{c.String("plugins")}
	}
	if home := config.GetPluginsDir(); !sameDir(pluginDirs[0], home) {
		pluginDirs = append(pluginDirs, home)
	}

	includeTags := ws.IncludeTags
	if c.IsSet("include-tags") {
		includeTags = c.StringSlice("include-tags")
	}
	excludeTags := ws.ExcludeTags
	if c.IsSet("exclude-tags") {
		excludeTags = c.StringSlice("exclude-tags")
	}

	browser := ws.Browser
	if c.IsSet("browser") {
		browser = c.String("browser")
	}
	headless := ws.IsHeadless()
	if c.IsSet("headless") {
		headless = c.Bool("headless")
	}

	return &RunConfig{
		TestPaths:     paths,
		TemplatesDir:  ws.Resolve(ws.Templates),
		PluginDirs:    pluginDirs,
		BaselinesDir:  ws.Resolve(ws.Baselines),
		ActualsDir:    ws.Resolve(ws.Actuals),
		DiffsDir:      ws.Resolve(ws.Diffs),
		OutputDir:     outputDir,
		MetricsFile:   c.String("metrics-file"),
		AllureResults: c.Bool("allure"),
		Env:           config.SnapshotEnv(ws.Env, parseEnvVars(c.StringSlice("env"))),
		IncludeTags:   includeTags,
		ExcludeTags:   excludeTags,
		Concurrency:   workers,
		Retries:       retries,
		Timeout:       time.Duration(ws.TimeoutMs) * time.Millisecond,
		Browser:       browser,
		Headless:      headless,
		Install:       c.Bool("install"),
		Verbose:       c.Bool("verbose"),
	}, nil
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: <base>/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(base string, flatten, explicit bool) (string, error) {
	if flatten && !explicit {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}
	if base == "" {
		base = "./reports"
	}
	if flatten {
		return filepath.Clean(base), nil
	}

	// Create timestamp-based subfolder
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(base, timestamp), nil
}

func executeRun(ctx context.Context, cfg *RunConfig) (*executor.RunResult, error) {
	// 1. Create output directory
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	logPath := filepath.Join(cfg.OutputDir, "visual-runner.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	logger.SetVerbose(cfg.Verbose)
	defer logger.Close()

	logger.Info("=== Run started ===")
	logger.Info("Output directory: %s", cfg.OutputDir)
	logger.Info("Browser: %s (headless=%v)", cfg.Browser, cfg.Headless)

	// 3. Load configurations and templates
	configs, err := flow.LoadConfigs(cfg.TestPaths)
	if err != nil {
		return nil, err
	}
	configs, err = flow.FilterByTags(configs, cfg.IncludeTags, cfg.ExcludeTags)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no test configurations found in %s", strings.Join(cfg.TestPaths, ", "))
	}
	templates, err := flow.NewDirStore(cfg.TemplatesDir)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded %d config(s), %d template(s)", len(configs), templates.Count())

	// 4. Actions: builtins, then plugins
	registry := actions.NewBuiltinRegistry()
	for _, dir := range cfg.PluginDirs {
		n, err := plugin.Register(registry, dir)
		if err != nil {
			return nil, fmt.Errorf("plugins: %w", err)
		}
		if n > 0 {
			logger.Info("Registered %d plugin action(s) from %s", n, dir)
		}
	}

	// 5. Browser engine
	browser, err := launchBrowser(web.Config{
		Browser:   cfg.Browser,
		Headless:  cfg.Headless,
		Timeout:   cfg.Timeout,
		DriverDir: config.GetBrowsersDir(),
		Install:   cfg.Install,
		Verbose:   cfg.Verbose,
		Output:    logger.GetWriter(),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := browser.Close(); err != nil {
			logger.Warn("failed to stop browser: %v", err)
		}
	}()

	// 6. Live report index
	runID := uuid.NewString()
	index, err := report.NewIndexWriter(cfg.OutputDir, runID, report.RunnerInfo{
		Version:     Version,
		Browser:     cfg.Browser,
		Headless:    cfg.Headless,
		Concurrency: cfg.Concurrency,
		Retries:     cfg.Retries,
	})
	if err != nil {
		return nil, err
	}

	// 7. Execute
	out := newProgress(os.Stdout)
	runner := executor.New(executor.Deps{
		Browser:   browser,
		Templates: templates,
		Data:      data.FileSource{},
		Actions:   registry,
		Visual:    visual.NewChecker(visual.NewStore(cfg.BaselinesDir, cfg.ActualsDir, cfg.DiffsDir)),
	}, executor.RunnerConfig{
		Concurrency:     cfg.Concurrency,
		MaxRetries:      cfg.Retries,
		OutputDir:       cfg.OutputDir,
		Env:             cfg.Env,
		Timeout:         cfg.Timeout,
		HTTPClient:      &http.Client{},
		RunID:           runID,
		OnUnitStart:     out.onUnitStart,
		OnStepComplete:  out.onStepComplete,
		OnAttemptFailed: out.onAttemptFailed,
		OnUnitEnd: func(res *core.Result) {
			out.onUnitEnd(res)
			if err := index.Add(*res); err != nil {
				logger.Warn("failed to update %s: %v", report.IndexFile, err)
			}
		},
	})

	fmt.Printf("\n  %sRun %s%s: %d config(s), batch size %d, retries %d\n\n",
		color(colorBold), runID, color(colorReset), len(configs), cfg.Concurrency, cfg.Retries)

	result, err := runner.Run(ctx, configs)
	if err != nil {
		logger.Error("run failed: %v", err)
		return nil, err
	}

	printSummary(os.Stdout, result)

	// 8. Reports
	if err := index.End(result.Results, result.Summary); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	writeReports(cfg, result)
	return result, nil
}

// writeReports renders secondary outputs. Failures are warnings; the run
// result stands on its own.
func writeReports(cfg *RunConfig, result *executor.RunResult) {
	fmt.Println()
	fmt.Println("  Reports:")
	fmt.Printf("    JSON:    %s\n", filepath.Join(cfg.OutputDir, report.IndexFile))

	htmlPath := filepath.Join(cfg.OutputDir, report.HTMLFile)
	if err := report.GenerateHTML(cfg.OutputDir, report.HTMLConfig{OutputPath: htmlPath}); err != nil {
		fmt.Printf("  %s⚠%s Warning: failed to generate HTML report: %v\n", color(colorYellow), color(colorReset), err)
	} else {
		fmt.Printf("    HTML:    %s\n", htmlPath)
	}

	if cfg.AllureResults {
		if err := report.GenerateAllure(cfg.OutputDir); err != nil {
			fmt.Printf("  %s⚠%s Warning: failed to export Allure results: %v\n", color(colorYellow), color(colorReset), err)
		} else {
			fmt.Printf("    Allure:  %s\n", filepath.Join(cfg.OutputDir, report.AllureDir))
		}
	}

	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, prometheus.DefaultGatherer); err != nil {
			fmt.Printf("  %s⚠%s Warning: failed to write metrics: %v\n", color(colorYellow), color(colorReset), err)
		} else {
			fmt.Printf("    Metrics: %s\n", cfg.MetricsFile)
		}
	}
	logger.Info("run %s reports written to %s (%d units)", result.RunID, cfg.OutputDir, len(result.Results))
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
