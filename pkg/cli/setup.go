package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/action-runner/pkg/config"
	"github.com/devicelab-dev/action-runner/pkg/driver/uiautomator2"
	"github.com/devicelab-dev/action-runner/pkg/driver/wda"
	"github.com/devicelab-dev/action-runner/pkg/logger"
	"github.com/devicelab-dev/action-runner/pkg/metrics"
	"github.com/devicelab-dev/action-runner/pkg/tree"
	"github.com/devicelab-dev/action-runner/pkg/vars"
)

// loadConfig reads the workspace config and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := lookupString(c, "config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if v := lookupString(c, "platform"); v != "" {
		cfg.Platform = v
	}
	if v := lookupString(c, "log-file"); v != "" {
		cfg.LogFile = v
	}
	if v := lookupString(c, "log-level"); v != "" {
		cfg.LogLevel = v
	}
	if lookupBool(c, "verbose") {
		cfg.LogLevel = "debug"
	}

	// Command-level overrides; absent flags read as zero values.
	if v := c.String("type"); v != "" {
		cfg.RunType = v
	}
	if c.Bool("strict") {
		cfg.StrictOrphans = true
	}
	if v := c.String("assets-dir"); v != "" {
		cfg.AssetsDir = v
	}
	if v := c.String("vars-file"); v != "" {
		cfg.PersistentVarsFile = v
	}
	if v := c.String("redis-addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging routes the global logger. --verbose also mirrors logs to
// stderr.
func setupLogging(c *cli.Context, cfg *config.Config) error {
	switch {
	case cfg.LogFile != "":
		if err := logger.Init(cfg.LogFile); err != nil {
			return err
		}
	case lookupBool(c, "verbose"):
		logger.InitWriter(c.App.ErrWriter)
	}
	if cfg.LogLevel != "" {
		lvl, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(lvl)
	}
	return nil
}

// parseVars parses repeated KEY=VALUE flags.
func parseVars(pairs []string) (map[string]any, error) {
	result := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid variable %q, expected KEY=VALUE", p)
		}
		result[k] = v
	}
	return result, nil
}

// openVars builds the session table with its persistent and global
// backends. The returned func releases backend connections.
func openVars(ctx context.Context, cfg *config.Config, seed map[string]any) (*vars.Table, func(), error) {
	path := cfg.PersistentVarsFile
	if path == "" {
		path = config.DefaultPersistentVarsFile()
	}
	file, err := vars.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	opts := []vars.Option{
		vars.WithValues(cfg.Variables),
		vars.WithValues(seed),
		vars.WithPersistent(file),
	}

	release := func() {}
	if cfg.Redis.Addr != "" {
		var ropts []vars.RedisOption
		if cfg.Redis.Prefix != "" {
			ropts = append(ropts, vars.WithRedisPrefix(cfg.Redis.Prefix))
		}
		rb := vars.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, ropts...)
		if err := rb.Ping(ctx); err != nil {
			rb.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		opts = append(opts, vars.WithGlobal(rb))
		release = func() {
			if err := rb.Close(); err != nil {
				logger.Warn("closing redis: %v", err)
			}
		}
	} else {
		opts = append(opts, vars.WithGlobal(vars.NewMemory()))
	}
	return vars.NewTable(opts...), release, nil
}

// serveMetrics exposes the collector on addr until the returned func is
// called. An empty addr disables the server.
func serveMetrics(addr string, col *metrics.Collector) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: metrics.Handler(col), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
	logger.Info("metrics listening on %s", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

// loadHierarchy reads a raw hierarchy from a JSON/YAML document or a vendor
// page-source dump. For page-source it also returns the platform whose
// normalizer was used.
func loadHierarchy(path, platform string) (any, string, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided fixture
	if err != nil {
		return nil, "", fmt.Errorf("failed to read hierarchy: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return parsePageSource(string(data), platform)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, "", fmt.Errorf("parse hierarchy %s: %w", path, err)
	}
	if raw == nil {
		return nil, "", fmt.Errorf("hierarchy %s is empty", path)
	}
	return raw, "", nil
}

// parsePageSource picks the normalizer by platform, falling back to the
// document's root tag.
func parsePageSource(source, platform string) (any, string, error) {
	platform = strings.ToLower(platform)
	if platform != "ios" && platform != "android" {
		platform = "ios"
		if strings.Contains(source, "<hierarchy") {
			platform = "android"
		}
	}
	var raw any
	var err error
	if platform == "android" {
		raw, err = uiautomator2.ParsePageSource(source)
	} else {
		raw, err = wda.ParsePageSource(source)
	}
	return raw, platform, err
}

// loadTree builds a tree from the --hierarchy flag.
func loadTree(c *cli.Context) (*tree.Tree, error) {
	path := lookupString(c, "hierarchy")
	if path == "" {
		return nil, fmt.Errorf("--hierarchy is required")
	}
	raw, _, err := loadHierarchy(path, lookupString(c, "platform"))
	if err != nil {
		return nil, err
	}
	return tree.Build(raw)
}
