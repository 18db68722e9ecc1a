package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/config"
	"github.com/devicelab-dev/action-runner/pkg/selector"
	"github.com/devicelab-dev/action-runner/pkg/syntax"
	"github.com/devicelab-dev/action-runner/pkg/validator"
)

var queryCommand = &cli.Command{
	Name:      "query",
	Usage:     "Evaluate a selector against a hierarchy",
	ArgsUsage: "<selector>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "ids",
			Usage: "Print element ids only",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("exactly one selector is required")
		}
		tr, err := loadTree(c)
		if err != nil {
			return err
		}
		set, err := selector.Evaluate(tr, c.Args().First())
		if err != nil {
			return err
		}

		out := c.App.Writer
		for _, e := range set.Elements() {
			if c.Bool("ids") {
				fmt.Fprintln(out, e.ID)
				continue
			}
			fmt.Fprintf(out, "%s%s %s%s%s\n", strings.Repeat("  ", e.Level), e.Describe(), color(colorGray), e.Type, color(colorReset))
		}
		if !c.Bool("ids") {
			fmt.Fprintf(out, "%s%d matched%s\n", color(colorGray), set.Len(), color(colorReset))
		}
		if set.Empty() {
			return fmt.Errorf("no element matches %q", c.Args().First())
		}
		return nil
	},
}

var compileCommand = &cli.Command{
	Name:      "compile",
	Usage:     "Check a selector and print its canonical form",
	ArgsUsage: "<selector>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("exactly one selector is required")
		}
		compiled, err := selector.Compile(c.Args().First())
		if err != nil {
			return err
		}

		out := c.App.Writer
		fmt.Fprintln(out, compiled.String())
		for i, s := range compiled.Steps() {
			comb := "start"
			switch s.Combinator {
			case selector.CombinatorDescendant:
				comb = "descendant"
			case selector.CombinatorChild:
				comb = "child"
			case selector.CombinatorAscend:
				comb = "parent"
			}
			group := s.Group.String()
			if group == "" {
				group = "(any)"
			}
			fmt.Fprintf(out, "  %d  %-10s %s\n", i+1, comb, group)
		}
		return nil
	},
}

var treeCommand = &cli.Command{
	Name:  "tree",
	Usage: "Print the normalized hierarchy with element ids",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format: outline, yaml or json",
			Value: "outline",
		},
	},
	Action: func(c *cli.Context) error {
		tr, err := loadTree(c)
		if err != nil {
			return err
		}

		out := c.App.Writer
		switch c.String("format") {
		case "outline":
			for _, e := range tr.All().Elements() {
				fmt.Fprintf(out, "%s%s %s%s%s\n", strings.Repeat("  ", e.Level), e.Describe(), color(colorGray), e.Type, color(colorReset))
			}
			fmt.Fprintf(out, "%s%d elements, height %d, hash %s%s\n",
				color(colorGray), tr.Len(), tr.MaxHeight(), tr.Hash(), color(colorReset))
		case "yaml":
			data, err := yaml.Marshal(tr.Export())
			if err != nil {
				return err
			}
			out.Write(data)
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tr.Export())
		default:
			return fmt.Errorf("unknown format %q", c.String("format"))
		}
		return nil
	},
}

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "Validate assets without running them",
	ArgsUsage: "<file or directory>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Report actions no syntax accepts",
		},
		&cli.StringFlag{
			Name:  "assets-dir",
			Usage: "Extra directory searched for call targets",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("exactly one file or directory is required")
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		reg, err := syntax.NewRegistry(cfg.ActionPaths...)
		if err != nil {
			return err
		}
		subst, err := action.NewSubstituter(cfg.VariablePattern)
		if err != nil {
			return err
		}

		opts := []validator.Option{
			validator.WithSelectorKeys(syntax.SelectorKeys),
			validator.WithSubstituter(subst),
		}
		if cfg.AssetsDir != "" {
			opts = append(opts, validator.WithAssetDirs(cfg.AssetsDir))
		}
		opts = append(opts, validator.WithAssetDirs(config.GetAssetsDir()))
		v := validator.New(reg, action.BuildOptions{Platform: cfg.Platform, Strict: cfg.StrictOrphans}, opts...)
		result := v.Validate(c.Args().First())

		out := c.App.Writer
		for _, f := range result.Files {
			fmt.Fprintf(out, "  %s\n", f)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  %s✗%s %v\n", color(colorRed), color(colorReset), e)
		}
		if !result.IsValid() {
			return fmt.Errorf("%d validation errors", len(result.Errors))
		}
		fmt.Fprintf(out, "%s✓%s %d assets valid\n", color(colorGreen), color(colorReset), len(result.Files))
		return nil
	},
}
