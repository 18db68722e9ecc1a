// Package cli provides the command-line interface for action-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Workspace config file (default: config.yaml in the current directory)",
		EnvVars: []string{"ACTION_RUNNER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		Usage:   "Platform used by platforms/ignore filters (ios, android, web)",
		EnvVars: []string{"ACTION_RUNNER_PLATFORM"},
	},
	&cli.StringFlag{
		Name:    "hierarchy",
		Usage:   "Element hierarchy served by the fixture driver (.json, .yaml, or page-source .xml)",
		EnvVars: []string{"ACTION_RUNNER_HIERARCHY"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Append logs to this file",
		EnvVars: []string{"ACTION_RUNNER_LOG_FILE"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Minimum log level (debug, info, warn, error)",
		EnvVars: []string{"ACTION_RUNNER_LOG_LEVEL"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Log at debug level to stderr",
		EnvVars: []string{"ACTION_RUNNER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "action-runner",
		Usage:   "Run UI action documents against an element hierarchy",
		Version: Version,
		Description: `action-runner executes JSON/YAML action documents step by step against
a device element hierarchy, and lets you inspect hierarchies and selectors.

Examples:
  action-runner --hierarchy screen.json run login.yaml
  action-runner run login.yaml --type step --var USER=test
  action-runner --hierarchy source.xml query '^{Log In}'
  action-runner compile '#{textfield:0} > @{Username}'
  action-runner check flows/ --strict`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			queryCommand,
			compileCommand,
			treeCommand,
			checkCommand,
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

// lookupString reads a flag from the command or, when it was given before
// the subcommand, from the parent context.
func lookupString(c *cli.Context, name string) string {
	for _, ctx := range c.Lineage() {
		if ctx.IsSet(name) {
			return ctx.String(name)
		}
	}
	return c.String(name)
}

func lookupBool(c *cli.Context, name string) bool {
	for _, ctx := range c.Lineage() {
		if ctx.IsSet(name) {
			return ctx.Bool(name)
		}
	}
	return c.Bool(name)
}
