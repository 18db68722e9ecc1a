// Package config handles configuration for action-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/action-runner/pkg/core"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Run settings
	Platform      string   `yaml:"platform"`      // filters platforms/ignore keys
	RunType       string   `yaml:"runType"`       // auto, interactive or step
	StrictOrphans bool     `yaml:"strictOrphans"` // unmatched actions fail the build
	ActionPaths   []string `yaml:"actionPaths"`   // extra action path patterns

	// Assets and variables
	AssetsDir          string         `yaml:"assetsDir"`          // lookup dir for call
	VariablePattern    string         `yaml:"variablePattern"`    // regex, group 1 is the name
	Variables          map[string]any `yaml:"variables"`          // seed session variables
	PersistentVarsFile string         `yaml:"persistentVarsFile"` // YAML file backend
	Redis              RedisConfig    `yaml:"redis"`              // global variable backend

	// Observability
	MetricsAddr string `yaml:"metricsAddr"` // e.g. :9090, empty disables
	LogFile     string `yaml:"logFile"`
	LogLevel    string `yaml:"logLevel"`
}

// RedisConfig configures the shared global-variable backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Load loads configuration from a file. Relative paths inside the file are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	cfg.AssetsDir = resolve(dir, cfg.AssetsDir)
	cfg.PersistentVarsFile = resolve(dir, cfg.PersistentVarsFile)
	cfg.LogFile = resolve(dir, cfg.LogFile)
	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return empty config
	return &Config{}, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch strings.ToLower(c.RunType) {
	case "", "auto", "interactive", "step":
	default:
		return core.ErrInvalidConfig.WithMessage("unknown runType %q", c.RunType)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return core.ErrInvalidConfig.WithMessage("unknown logLevel %q", c.LogLevel)
	}
	if c.Redis.DB < 0 {
		return core.ErrInvalidConfig.WithMessage("redis db must not be negative")
	}
	return nil
}
