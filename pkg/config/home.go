package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "ACTION_RUNNER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the action-runner home directory.
//
// Resolution order:
//  1. $ACTION_RUNNER_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetAssetsDir returns <home>/assets, the default lookup dir for call.
func GetAssetsDir() string {
	return filepath.Join(GetHome(), "assets")
}

// GetStateDir returns <home>/state, where persistent variables live by
// default.
func GetStateDir() string {
	return filepath.Join(GetHome(), "state")
}

// DefaultPersistentVarsFile returns <home>/state/vars.yaml.
func DefaultPersistentVarsFile() string {
	return filepath.Join(GetStateDir(), "vars.yaml")
}

func resolveHome() string {
	// 1. Environment variable
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// 2. Binary-relative: if binary is at <home>/bin/action-runner, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	// 3. Current working directory
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
