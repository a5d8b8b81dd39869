// Package config handles workspace configuration for visual-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AutoConcurrency is the concurrency value that binds to the CPU count.
const AutoConcurrency = "auto"

// File names searched by LoadFromDir, in order.
var configFileNames = []string{"visual-runner.yaml", "visual-runner.yml", "config.yaml", "config.yml"}

// Config represents the workspace configuration (visual-runner.yaml).
type Config struct {
	// Locations, relative to the config file
	Tests     string `yaml:"tests"`
	Templates string `yaml:"templates"`
	Plugins   string `yaml:"plugins"`
	Output    string `yaml:"output"`
	Baselines string `yaml:"baselines"`
	Actuals   string `yaml:"actuals"`
	Diffs     string `yaml:"diffs"`

	// Selection
	IncludeTags []string `yaml:"includeTags"`
	ExcludeTags []string `yaml:"excludeTags"`

	// Execution
	Concurrency string            `yaml:"concurrency"` // Positive integer or "auto"
	Retries     int               `yaml:"retries"`
	Env         map[string]string `yaml:"env"`

	// Browser
	Browser   string `yaml:"browser"` // chromium, firefox, webkit
	Headless  *bool  `yaml:"headless"`
	TimeoutMs int    `yaml:"timeoutMs"`

	dir string
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("%s: retries must be >= 0", path)
	}
	if cfg.Concurrency != "" {
		if _, err := ParseConcurrency(cfg.Concurrency); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.dir = filepath.Dir(path)
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromDir looks for a workspace config file in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range configFileNames {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults rooted at dir
	cfg := Default()
	cfg.dir = dir
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Tests == "" {
		c.Tests = "tests"
	}
	if c.Templates == "" {
		c.Templates = "templates"
	}
	if c.Plugins == "" {
		c.Plugins = "plugins"
	}
	if c.Output == "" {
		c.Output = "reports"
	}
	if c.Baselines == "" {
		c.Baselines = filepath.Join("snapshots", "baseline")
	}
	if c.Actuals == "" {
		c.Actuals = filepath.Join("snapshots", "actual")
	}
	if c.Diffs == "" {
		c.Diffs = filepath.Join("snapshots", "diff")
	}
	if c.Concurrency == "" {
		c.Concurrency = "1"
	}
	if c.Browser == "" {
		c.Browser = "chromium"
	}
	if c.Headless == nil {
		h := true
		c.Headless = &h
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 30000
	}
}

// Resolve returns p relative to the config file's directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Dir returns the directory the config was loaded from.
func (c *Config) Dir() string {
	return c.dir
}

// IsHeadless reports the headless setting (default true).
func (c *Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// ParseConcurrency converts a concurrency setting into a positive worker
// count. "auto" binds to the number of logical CPUs at call time.
func ParseConcurrency(value string) (int, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	if v == "" {
		return 1, nil
	}
	if v == AutoConcurrency {
		return runtime.NumCPU(), nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("concurrency must be a positive integer or %q, got %q", AutoConcurrency, value)
	}
	return n, nil
}
