package jsengine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/action-runner/pkg/logger"
)

func TestEval(t *testing.T) {
	engine := New()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"simple number", "1 + 2", int64(3)},
		{"string concat", "'hello' + ' ' + 'world'", "hello world"},
		{"boolean", "true && false", false},
		{"null coalescing", "null ?? 'default'", "default"},
		{"array length", "[1, 2, 3].length", int64(3)},
		{"object property", "({name: 'test'}).name", "test"},
		{"template literal", "const n = 2; `n=${n}`", "n=2"},
		{"arrow function", "[1, 2, 3].map(x => x * 2).join(',')", "2,4,6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(context.Background(), "(() => { "+returnLast(tt.script)+" })()")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}
}

// returnLast turns "a; b" into "a; return b" so each case gets its own scope.
func returnLast(script string) string {
	if i := strings.LastIndex(script, "; "); i >= 0 {
		return script[:i+2] + "return " + script[i+2:]
	}
	return "return " + script
}

func TestSetVariable(t *testing.T) {
	engine := New()
	engine.SetVariables(map[string]any{
		"username":   "john",
		"count":      42,
		"user.email": "j@example.com",
	})

	result, err := engine.Eval(context.Background(), "username + ':' + count")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "john:42" {
		t.Errorf("expected 'john:42', got %v", result)
	}

	result, err = engine.Eval(context.Background(), "vars['user.email']")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "j@example.com" {
		t.Errorf("dotted names should be reachable through vars, got %v", result)
	}
}

func TestOutput(t *testing.T) {
	engine := New()

	if _, err := engine.Eval(context.Background(), "output.token = 'abc'; output.n = 3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"token": "abc", "n": int64(3)}, engine.Output()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	engine.ResetOutput()
	if n := len(engine.Output()); n != 0 {
		t.Errorf("expected empty output after reset, got %d entries", n)
	}

	// Replacing the output object wholesale is also picked up.
	engine.Eval(context.Background(), "output = {replaced: true}")
	if engine.Output()["replaced"] != true {
		t.Error("expected reassigned output to be read")
	}
}

func TestJSON(t *testing.T) {
	engine := New()

	result, err := engine.Eval(context.Background(), `json('{"a": {"b": [1, 2]}}').a.b[1]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != int64(2) {
		t.Errorf("expected 2, got %v", result)
	}

	if _, err := engine.Eval(context.Background(), `json('{broken')`); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestRunnerObject(t *testing.T) {
	engine := New(WithPlatform("ios"), WithRunID("r-1"))

	result, err := engine.Eval(context.Background(), "runner.platform + '/' + runner.runId")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ios/r-1" {
		t.Errorf("expected 'ios/r-1', got %v", result)
	}
}

func TestConsoleGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWriter(&buf)
	defer logger.Close()

	engine := New(WithLogger(logger.With("actions.0")))
	if _, err := engine.Eval(context.Background(), "console.log('hello', 42); console.error('bad')"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[INFO] [actions.0] hello 42") {
		t.Errorf("console.log not logged, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] [actions.0] bad") {
		t.Errorf("console.error not logged, got %q", out)
	}
}

func TestEvalBool(t *testing.T) {
	engine := New()
	engine.SetVariable("count", 3)

	for script, want := range map[string]bool{
		"count > 2":  true,
		"count == 0": false,
		"''":         false,
		"'x'":        true,
		"undefined":  false,
	} {
		got, err := engine.EvalBool(context.Background(), script)
		if err != nil {
			t.Fatalf("EvalBool(%q) failed: %v", script, err)
		}
		if got != want {
			t.Errorf("EvalBool(%q) = %v, want %v", script, got, want)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	engine := New()

	if _, err := engine.Eval(context.Background(), "undefinedVariable.property"); err == nil {
		t.Error("expected runtime error")
	}
	if _, err := engine.Eval(context.Background(), "function {"); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := engine.Eval(context.Background(), "throw new Error('custom')"); err == nil || !strings.Contains(err.Error(), "custom") {
		t.Errorf("expected thrown error to surface, got %v", err)
	}
}

func TestEvalInterrupted(t *testing.T) {
	engine := New()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := engine.Eval(ctx, "while (true) {}")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}

	// The runtime is usable again after an interrupt.
	result, err := engine.Eval(context.Background(), "1 + 1")
	if err != nil || result != int64(2) {
		t.Errorf("engine not reusable after interrupt: %v, %v", result, err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if _, err := engine.Eval(cancelled, "1"); !errors.Is(err, ErrInterrupted) {
		t.Errorf("expected ErrInterrupted for cancelled context, got %v", err)
	}
}
