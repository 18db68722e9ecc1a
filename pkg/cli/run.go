package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/config"
	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/driver/mock"
	"github.com/devicelab-dev/action-runner/pkg/logger"
	"github.com/devicelab-dev/action-runner/pkg/metrics"
	"github.com/devicelab-dev/action-runner/pkg/run"
	"github.com/devicelab-dev/action-runner/pkg/syntax"
	"github.com/devicelab-dev/action-runner/pkg/tree"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Execute an action document",
	ArgsUsage: "<asset>",
	Description: `Runs the actions of a JSON or YAML document against the fixture driver.

In interactive and step runs, operator commands are read from stdin, one per
line: pause, resume, next, skip, stop, repeat-last (or last), end.
Closing stdin stops a run that is still in progress.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "type",
			Aliases: []string{"t"},
			Usage:   "Run type: auto, interactive or step",
			EnvVars: []string{"ACTION_RUNNER_RUN_TYPE"},
		},
		&cli.StringSliceFlag{
			Name:  "var",
			Usage: "Session variable KEY=VALUE (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Fail on actions no syntax accepts instead of skipping them",
		},
		&cli.StringFlag{
			Name:  "assets-dir",
			Usage: "Directory searched by call (default: the asset's directory)",
		},
		&cli.StringFlag{
			Name:  "vars-file",
			Usage: "YAML file holding persistent variables",
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for global variables",
			EnvVars: []string{"ACTION_RUNNER_REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address (e.g. :9090)",
			EnvVars: []string{"ACTION_RUNNER_METRICS_ADDR"},
		},
	},
	Action: runAsset,
}

func runAsset(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one asset file is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(c, cfg); err != nil {
		return err
	}
	defer logger.Close()

	runType, err := run.ParseType(cfg.RunType)
	if err != nil {
		return err
	}
	seed, err := parseVars(c.StringSlice("var"))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	asset, err := action.ParseFile(c.Args().First())
	if err != nil {
		return err
	}

	sess, release, err := newSession(ctx, c, cfg, asset, seed)
	if err != nil {
		return err
	}
	defer release()

	queue, err := action.BuildQueue(asset, sess.Registry, sess.BuildOptions())
	if err != nil {
		return err
	}

	stopMetrics, err := serveMetrics(cfg.MetricsAddr, sess.Metrics)
	if err != nil {
		return err
	}
	defer stopMetrics()

	out := c.App.Writer
	fmt.Fprintf(out, "\n  %s%s%s (%s, %d actions)\n", color(colorBold), asset.Name, color(colorReset), runType, queue.Len())
	fmt.Fprintln(out, strings.Repeat("─", 60))

	r, err := run.New(queue, sess, run.Config{
		Type:      runType,
		Name:      asset.Name,
		Reporters: []run.Reporter{newReporter(out)},
		Metrics:   sess.Metrics,
	})
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	if runType != run.TypeAuto {
		go operate(r, c.App.Reader, c.App.ErrWriter)
	}

	res := r.Wait()
	printResult(out, asset.Name, res)
	if res.Outcome != run.OutcomePassed {
		if res.Err != nil {
			return fmt.Errorf("run %s: %w", res.Outcome, res.Err)
		}
		return fmt.Errorf("run %s", res.Outcome)
	}
	return nil
}

// newSession wires the driver, registry, loader, variables and metrics for
// one top-level run.
func newSession(ctx context.Context, c *cli.Context, cfg *config.Config, asset *action.Asset, seed map[string]any) (*action.Session, func(), error) {
	raw := mock.LoginScreen()
	platform := cfg.Platform
	if path := lookupString(c, "hierarchy"); path != "" {
		var detected string
		var err error
		if raw, detected, err = loadHierarchy(path, cfg.Platform); err != nil {
			return nil, nil, err
		}
		if platform == "" {
			platform = detected
		}
	}
	driver := mock.New(mock.Config{Hierarchy: raw, Platform: platform})
	if cfg.Platform == "" {
		cfg.Platform = devicePlatform(driver)
		if cfg.Platform != "" {
			logger.Info("platform %s reported by driver", cfg.Platform)
		}
	}

	// Nested runs copy the session, so the tree must exist before the first
	// run starts for captures to be shared.
	initial, err := tree.Build(raw)
	if err != nil {
		return nil, nil, err
	}

	reg, err := syntax.NewRegistry(cfg.ActionPaths...)
	if err != nil {
		return nil, nil, err
	}
	subst, err := action.NewSubstituter(cfg.VariablePattern)
	if err != nil {
		return nil, nil, err
	}

	var dirs []string
	if cfg.AssetsDir != "" {
		dirs = append(dirs, cfg.AssetsDir)
	}
	dirs = append(dirs, filepath.Dir(asset.Source), config.GetAssetsDir())

	table, release, err := openVars(ctx, cfg, seed)
	if err != nil {
		return nil, nil, err
	}

	return &action.Session{
		Platform: cfg.Platform,
		Strict:   cfg.StrictOrphans,
		Vars:     table,
		Tree:     initial,
		Driver:   driver,
		Registry: reg,
		Loader:   action.NewLoader(dirs...),
		Subst:    subst,
		Metrics:  metrics.New(),
	}, release, nil
}

// devicePlatform returns the platform a driver describes, or "".
func devicePlatform(d core.Driver) string {
	p, ok := d.(core.PlatformInfoProvider)
	if !ok {
		return ""
	}
	if info := p.PlatformInfo(); info != nil {
		return info.Platform
	}
	return ""
}

// operate forwards operator commands from in until the run ends. End of
// input stops a run that is still going.
func operate(r *run.Run, in io.Reader, errOut io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-r.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-r.Done():
			return
		case line, ok := <-lines:
			if !ok {
				if err := r.Stop(); err != nil && !errors.Is(err, run.ErrActionNotAllowed) {
					logger.Warn("stopping run on end of input: %v", err)
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			a, err := run.ParseAction(line)
			if err != nil {
				fmt.Fprintf(errOut, "  %v\n", err)
				continue
			}
			if err := r.Send(a); err != nil {
				fmt.Fprintf(errOut, "  %v\n", err)
			}
		}
	}
}
