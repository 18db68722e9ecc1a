// Package jsengine evaluates the script action on a goja runtime.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/action-runner/pkg/logger"
)

// ErrInterrupted is returned when a script is cut short by its context.
var ErrInterrupted = errors.New("script interrupted")

var identPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Engine wraps one goja runtime. It is safe for concurrent use, but
// scripts run one at a time.
type Engine struct {
	mu       sync.Mutex
	runtime  *goja.Runtime
	vars     *goja.Object
	log      *logger.Logger
	platform string
	runID    string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sends console output to l.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPlatform exposes the platform as runner.platform.
func WithPlatform(platform string) Option {
	return func(e *Engine) { e.platform = platform }
}

// WithRunID exposes the run id as runner.runId.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// New creates an engine with console, json, vars, output and runner globals.
func New(opts ...Option) *Engine {
	e := &Engine{runtime: goja.New(), log: logger.With("script")}
	for _, o := range opts {
		o(e)
	}
	e.setupBuiltins()
	return e
}

func (e *Engine) setupBuiltins() {
	e.setupConsole()

	e.runtime.Set("json", e.jsonFunc())

	e.vars = e.runtime.NewObject()
	e.runtime.Set("vars", e.vars)
	e.runtime.Set("output", e.runtime.NewObject())

	runner := e.runtime.NewObject()
	runner.Set("platform", e.platform)
	runner.Set("runId", e.runID)
	e.runtime.Set("runner", runner)
}

func (e *Engine) setupConsole() {
	format := func(call goja.FunctionCall) string {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		return strings.Join(parts, " ")
	}

	console := e.runtime.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		e.log.Info("%s", format(call))
		return goja.Undefined()
	})
	console.Set("warn", func(call goja.FunctionCall) goja.Value {
		e.log.Warn("%s", format(call))
		return goja.Undefined()
	})
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		e.log.Error("%s", format(call))
		return goja.Undefined()
	})
	e.runtime.Set("console", console)
}

// jsonFunc parses its argument as JSON.
func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}
		parse, _ := goja.AssertFunction(e.runtime.Get("JSON").ToObject(e.runtime).Get("parse"))
		v, err := parse(goja.Undefined(), call.Arguments[0])
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return v
	}
}

// SetVariable exposes a variable as vars[name], and as a global when name is
// a valid identifier.
func (e *Engine) SetVariable(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars.Set(name, value)
	if identPattern.MatchString(name) {
		e.runtime.Set(name, value)
	}
}

// SetVariables calls SetVariable for every entry, in name order.
func (e *Engine) SetVariables(values map[string]any) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		e.SetVariable(k, values[k])
	}
}

// Output returns a copy of the values scripts assigned to output.
func (e *Engine) Output() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]any)
	v := e.runtime.Get("output")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return out
	}
	obj := v.ToObject(e.runtime)
	for _, k := range obj.Keys() {
		out[k] = obj.Get(k).Export()
	}
	return out
}

// ResetOutput clears the output object.
func (e *Engine) ResetOutput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runtime.Set("output", e.runtime.NewObject())
}

// Eval runs script and returns its exported completion value. Cancelling ctx
// interrupts the script and yields an error matching ErrInterrupted.
func (e *Engine) Eval(ctx context.Context, script string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		e.runtime.ClearInterrupt()
	}()

	v, err := e.runtime.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, interrupted.Value())
		}
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	return v.Export(), nil
}

// EvalBool evaluates script as a condition using JavaScript truthiness.
func (e *Engine) EvalBool(ctx context.Context, script string) (bool, error) {
	v, err := e.Eval(ctx, "Boolean("+script+"\n)")
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}
