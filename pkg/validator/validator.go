// Package validator checks action assets before execution.
// It parses every file upfront, builds its queue, resolves call references,
// detects cycles and compiles literal selectors.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/selector"
	"github.com/devicelab-dev/action-runner/pkg/vars"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Files lists the checked assets, callers before callees.
	Files []string
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates action assets.
type Validator struct {
	reg          *action.Registry
	opts         action.BuildOptions
	dirs         []string
	callSyntax   string
	selectorKeys map[string]string
	subst        *action.Substituter
}

// Option configures a Validator.
type Option func(*Validator)

// WithAssetDirs adds directories searched for call targets after the
// calling asset's own directory.
func WithAssetDirs(dirs ...string) Option {
	return func(v *Validator) {
		v.dirs = append(v.dirs, dirs...)
	}
}

// WithCallSyntax names the syntax whose value is a callee asset. Defaults
// to "call".
func WithCallSyntax(name string) Option {
	return func(v *Validator) {
		v.callSyntax = name
	}
}

// WithSelectorKeys maps syntax names to the key holding a selector. Those
// selectors are compiled unless they contain variable references.
func WithSelectorKeys(keys map[string]string) Option {
	return func(v *Validator) {
		v.selectorKeys = keys
	}
}

// WithSubstituter sets the variable pattern used to recognize references.
func WithSubstituter(s *action.Substituter) Option {
	return func(v *Validator) {
		v.subst = s
	}
}

// New creates a Validator checking queues built with reg and opts.
func New(reg *action.Registry, opts action.BuildOptions, options ...Option) *Validator {
	v := &Validator{reg: reg, opts: opts, callSyntax: "call"}
	for _, o := range options {
		o(v)
	}
	if v.subst == nil {
		v.subst, _ = action.NewSubstituter("")
	}
	return v
}

// Validate validates a file or directory.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectAssetFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{filepath.Clean(path)}
	}

	validated := make(map[string]bool)
	for _, file := range files {
		v.validateFile(file, result, validated, nil)
	}
	return result
}

// collectAssetFiles finds .json/.yaml/.yml files in a directory, skipping
// workspace config files.
func collectAssetFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch strings.ToLower(info.Name()) {
		case "config.yaml", "config.yml":
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func (v *Validator) validateFile(filePath string, result *Result, validated map[string]bool, chain []string) {
	for _, ancestor := range chain {
		if ancestor == filePath {
			cycle := append(append([]string{}, chain...), filePath)
			result.Errors = append(result.Errors, &ValidationError{
				File:    filePath,
				Message: fmt.Sprintf("circular call detected: %s", strings.Join(cycle, " -> ")),
			})
			return
		}
	}
	if validated[filePath] {
		return
	}
	validated[filePath] = true

	asset, err := action.ParseFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{File: filePath, Message: fmt.Sprintf("parse error: %v", err)})
		return
	}
	result.Files = append(result.Files, filePath)

	queue, err := action.BuildQueue(asset, v.reg, v.opts)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{File: filePath, Message: err.Error()})
		return
	}

	next := append(append([]string{}, chain...), filePath)
	for _, it := range queue.Items() {
		if key, ok := v.selectorKeys[it.Syntax.Name]; ok {
			v.checkSelector(filePath, it, key, result)
		}
		if it.Syntax.Name != v.callSyntax {
			continue
		}
		name, ok := it.Node.Get(v.callSyntax).Text()
		if !ok || v.hasReference(name) {
			continue
		}
		dirs := append([]string{filepath.Dir(filePath)}, v.dirs...)
		ref, err := action.NewLoader(dirs...).Resolve(name)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    filePath,
				Message: fmt.Sprintf("%s: %v", it.RealPath, err),
			})
			continue
		}
		v.validateFile(ref, result, validated, next)
	}
}

func (v *Validator) checkSelector(filePath string, it *action.Item, key string, result *Result) {
	text, ok := it.Node.Get(key).Text()
	if !ok || v.hasReference(text) {
		return
	}
	if _, err := selector.Compile(text); err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: fmt.Sprintf("%s: %v", it.RealPath, err),
		})
	}
}

// hasReference reports whether text changes under substitution, i.e. it can
// only be checked at dispatch.
func (v *Validator) hasReference(text string) bool {
	out, err := v.subst.String(text, vars.NewTable())
	return err != nil || out != text
}
