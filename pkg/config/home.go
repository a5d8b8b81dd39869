package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "VISUAL_RUNNER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the visual-runner home directory.
//
// Resolution order:
//  1. $VISUAL_RUNNER_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetPluginsDir returns <home>/plugins, searched after the workspace plugins dir.
func GetPluginsDir() string {
	return filepath.Join(GetHome(), "plugins")
}

// GetBrowsersDir returns <home>/browsers where the browser engine driver is installed.
func GetBrowsersDir() string {
	return filepath.Join(GetHome(), "browsers")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// Binary-relative: <home>/bin/visual-runner
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
