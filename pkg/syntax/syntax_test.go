package syntax

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/driver/mock"
	"github.com/devicelab-dev/action-runner/pkg/run"
	"github.com/devicelab-dev/action-runner/pkg/vars"
)

func init() {
	pollInterval = 5 * time.Millisecond
}

func newSession(t *testing.T, d *mock.Driver) *action.Session {
	t.Helper()
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return &action.Session{
		Vars:     vars.NewTable(),
		Driver:   d,
		Registry: reg,
		Loader:   action.NewLoader(t.TempDir()),
	}
}

func execute(t *testing.T, sess *action.Session, doc string) *run.Result {
	t.Helper()
	asset, err := action.Parse([]byte(doc), "test.json")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	q, err := action.BuildQueue(asset, sess.Registry, action.BuildOptions{Strict: true})
	if err != nil {
		t.Fatalf("BuildQueue failed: %v", err)
	}
	r, err := run.New(q, sess, run.Config{Name: asset.Name})
	if err != nil {
		t.Fatalf("run.New failed: %v", err)
	}
	res, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return res
}

func mustPass(t *testing.T, res *run.Result) {
	t.Helper()
	if res.Outcome != run.OutcomePassed {
		t.Fatalf("expected run to pass, got %s: %v", res.Outcome, res.Err)
	}
}

func mustFail(t *testing.T, res *run.Result, contains string) {
	t.Helper()
	if res.Outcome != run.OutcomeFailed {
		t.Fatalf("expected run to fail, got %s", res.Outcome)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), contains) {
		t.Errorf("expected failure containing %q, got %v", contains, res.Err)
	}
}

func TestRegisterDefaults(t *testing.T) {
	reg, err := NewRegistry("steps.*")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"tap", "type", "assert", "press", "wait", "set", "log", "script", "call", "group"}
	if diff := cmp.Diff(want, reg.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	for _, p := range [][]string{{"actions", "*"}, {"setup", "actions", "*"}, {"steps", "*"}} {
		if !reg.IsActionPath(p) {
			t.Errorf("%v should be an action path", p)
		}
	}
	if reg.IsActionPath([]string{"actions"}) {
		t.Error("the actions array itself is not an action path")
	}
}

func TestTapAndType(t *testing.T) {
	d := mock.New(mock.Config{})
	sess := newSession(t, d)

	res := execute(t, sess, `{"actions": [
		{"type": ".userName", "text": "alice"},
		{"tap": "[type=textfield]", "index": "1"},
		{"tap": "^{Log In}"}
	]}`)
	mustPass(t, res)

	want := []mock.Interaction{
		{Name: "type", Elements: []string{"textfield:0"}, Options: map[string]any{"text": "alice"}},
		{Name: "tap", Elements: []string{"textfield:1"}},
		{Name: "tap", Elements: []string{"button:0"}},
	}
	if diff := cmp.Diff(want, d.Interactions()); diff != "" {
		t.Errorf("interactions mismatch (-want +got):\n%s", diff)
	}
	if d.Captures() != 3 {
		t.Errorf("expected one capture per element action, got %d", d.Captures())
	}
}

func TestTapMissingElement(t *testing.T) {
	d := mock.New(mock.Config{})
	res := execute(t, newSession(t, d), `{"actions": [{"tap": ".missing"}, {"tap": ".login"}]}`)
	mustFail(t, res, `no element 0 for ".missing"`)
	if len(d.Interactions()) != 0 {
		t.Error("nothing should be tapped")
	}
}

func TestTapInvalidSelector(t *testing.T) {
	res := execute(t, newSession(t, mock.New(mock.Config{})), `{"actions": [{"tap": "#a>.b"}]}`)
	mustFail(t, res, "invalid selector")
}

func TestInteractionFailure(t *testing.T) {
	d := mock.New(mock.Config{Fail: map[string]error{"tap": errors.New("device busy")}})
	res := execute(t, newSession(t, d), `{"actions": [{"tap": ".login"}]}`)
	mustFail(t, res, "mock tap failed")
}

func TestAssert(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		wantErr string
	}{
		{"exists", `{"assert": ".login"}`, ""},
		{"count", `{"assert": "[type=textfield]", "count": 2}`, ""},
		{"count from string", `{"assert": "[type=textfield]", "count": "2"}`, ""},
		{"count mismatch", `{"assert": "[type=textfield]", "count": 3}`, "expected 3"},
		{"absent", `{"assert": ".missing", "exists": false}`, ""},
		{"unexpectedly present", `{"assert": ".login", "exists": false}`, "expected none"},
		{"missing", `{"assert": ".missing"}`, "matched nothing"},
		{"value", `{"assert": ".userName", "value": "Username"}`, ""},
		{"value mismatch", `{"assert": ".userName", "value": "alice"}`, `expected "alice"`},
		{"zero count", `{"assert": ".missing", "count": 0}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, newSession(t, mock.New(mock.Config{})), `{"actions": [`+tt.action+`]}`)
			if tt.wantErr == "" {
				mustPass(t, res)
				return
			}
			mustFail(t, res, tt.wantErr)
		})
	}
}

func TestAssertPollsUntilTimeout(t *testing.T) {
	d := mock.New(mock.Config{Hierarchy: map[string]any{"type": "spinner"}})
	go func() {
		time.Sleep(30 * time.Millisecond)
		d.SetHierarchy(mock.LoginScreen())
	}()

	res := execute(t, newSession(t, d), `{"actions": [{"assert": ".login", "timeout": 2000}]}`)
	mustPass(t, res)
	if d.Captures() < 2 {
		t.Errorf("expected repeated captures, got %d", d.Captures())
	}
}

func TestPressAndWait(t *testing.T) {
	d := mock.New(mock.Config{})
	start := time.Now()
	res := execute(t, newSession(t, d), `{"actions": [{"press": "home"}, {"wait": 20}]}`)
	mustPass(t, res)

	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("wait returned after %s", elapsed)
	}
	want := []mock.Interaction{{Name: "press", Options: map[string]any{"key": "home"}, Device: true}}
	if diff := cmp.Diff(want, d.Interactions()); diff != "" {
		t.Errorf("interactions mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidArguments(t *testing.T) {
	res := execute(t, newSession(t, mock.New(mock.Config{})), `{"actions": [{"wait": "soon"}]}`)
	mustFail(t, res, "invalid arguments")

	res = execute(t, newSession(t, mock.New(mock.Config{})), `{"actions": [{"wait": -1}]}`)
	mustFail(t, res, "must not be negative")
}

func TestSetFeedsLaterSteps(t *testing.T) {
	d := mock.New(mock.Config{})
	sess := newSession(t, d)

	res := execute(t, sess, `{"actions": [
		{"set": "user", "value": "alice"},
		{"type": ".userName", "text": "${user}"},
		{"log": "typed ${user}", "level": "debug"}
	]}`)
	mustPass(t, res)

	if got := d.Interactions()[0].Options["text"]; got != "alice" {
		t.Errorf("expected substituted text, got %v", got)
	}
	if v, _ := sess.Vars.Get("user"); v != "alice" {
		t.Errorf("expected variable saved on the shared table, got %v", v)
	}
}

func TestSetGlobalWithoutBackend(t *testing.T) {
	res := execute(t, newSession(t, mock.New(mock.Config{})), `{"actions": [{"set": "x", "value": 1, "global": true}]}`)
	mustFail(t, res, "no backend configured")
}

func TestLogRejectsUnknownLevel(t *testing.T) {
	res := execute(t, newSession(t, mock.New(mock.Config{})), `{"actions": [{"log": "hi", "level": "loud"}]}`)
	mustFail(t, res, "loud")
}

func TestScript(t *testing.T) {
	d := mock.New(mock.Config{})
	sess := newSession(t, d)

	res := execute(t, sess, `{"actions": [
		{"set": "n", "value": 2},
		{"script": "output.doubled = n * 2; 'done'", "result": "status"},
		{"type": ".userName", "text": "${doubled}/${status}"}
	]}`)
	mustPass(t, res)

	if got := d.Interactions()[0].Options["text"]; got != "4/done" {
		t.Errorf("expected script outputs in later steps, got %v", got)
	}
}

func TestScriptError(t *testing.T) {
	res := execute(t, newSession(t, mock.New(mock.Config{})), `{"actions": [{"script": "throw new Error('nope')"}]}`)
	mustFail(t, res, "nope")
}

func TestGroupQueuesChildren(t *testing.T) {
	d := mock.New(mock.Config{})
	res := execute(t, newSession(t, d), `{"actions": [
		{"group": "login", "actions": [
			{"type": ".userName", "text": "bob"},
			{"tap": ".login"}
		]},
		{"press": "back"}
	]}`)
	mustPass(t, res)

	var paths []string
	for _, it := range res.Items {
		paths = append(paths, it.RealPath+"="+it.Syntax)
	}
	want := []string{"actions.0=group", "actions.0.actions.0=type", "actions.0.actions.1=tap", "actions.1=press"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func writeAsset(t *testing.T, dir, name, doc string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCall(t *testing.T) {
	d := mock.New(mock.Config{})
	sess := newSession(t, d)
	dir := t.TempDir()
	sess.Loader = action.NewLoader(dir)
	writeAsset(t, dir, "login.yaml", "actions:\n  - type: .userName\n    text: ${user}\n  - tap: .login\n")
	writeAsset(t, dir, "loop.json", `{"actions": [{"call": "loop"}]}`)

	res := execute(t, sess, `{"name": "main", "actions": [{"set": "user", "value": "carol"}, {"call": "login"}, {"press": "home"}]}`)
	mustPass(t, res)
	if n := len(d.Interactions()); n != 3 {
		t.Fatalf("expected nested interactions, got %d", n)
	}
	if got := d.Interactions()[0].Options["text"]; got != "carol" {
		t.Errorf("nested run should see parent variables, got %v", got)
	}

	res = execute(t, sess, `{"name": "main", "actions": [{"call": "loop"}]}`)
	mustFail(t, res, "recursive call to loop")

	res = execute(t, sess, `{"actions": [{"call": "nowhere"}]}`)
	mustFail(t, res, "nowhere")
}

func TestCaptureAdoptsUnchangedTree(t *testing.T) {
	d := mock.New(mock.Config{})
	sess := &action.Session{Driver: d}
	s := &action.Scope{Ctx: context.Background(), Session: sess}

	first, err := Capture(s)
	if err != nil {
		t.Fatal(err)
	}
	before := first.All()
	login, _ := first.Element("button:0")

	second, err := Capture(s)
	if err != nil {
		t.Fatal(err)
	}
	if second != first || !before.Contains(login) {
		t.Error("identical capture should keep the existing snapshot")
	}

	d.SetHierarchy(map[string]any{"type": "alert"})
	third, _ := Capture(s)
	if third.Len() != 1 || before.Len() != 4 {
		t.Errorf("changed capture should replace the snapshot, got %d elements", third.Len())
	}

	if _, err := Capture(&action.Scope{Ctx: context.Background(), Session: &action.Session{}}); !errors.Is(err, core.ErrDriverUnavailable) {
		t.Errorf("expected ErrDriverUnavailable, got %v", err)
	}
}
