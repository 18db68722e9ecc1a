package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/config"
	"github.com/devicelab-dev/action-runner/pkg/selector"
	"github.com/devicelab-dev/action-runner/pkg/vars"
)

// syncBuffer is written by the operator goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runApp(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return runAppHome(t, t.TempDir(), stdin, args...)
}

func runAppHome(t *testing.T, home, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("ACTION_RUNNER_HOME", home)
	config.ResetHome()
	t.Cleanup(config.ResetHome)
	colorsEnabled = false

	var out, errOut syncBuffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"action-runner"}, args...))
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const screenJSON = `{
  "type": "window",
  "label": "Main",
  "children": [
    {"type": "textfield", "name": "userName", "value": "Username",
     "children": [{"type": "textfield", "name": "userName", "value": "Username"}]},
    {"type": "button", "name": "login", "label": "Log In"}
  ]
}`

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0ms"},
		{999 * time.Millisecond, "999ms"},
		{1500 * time.Millisecond, "1.5s"},
		{59 * time.Second, "59.0s"},
		{61 * time.Second, "1m 1s"},
		{125 * time.Second, "2m 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseVars(t *testing.T) {
	got, err := parseVars([]string{"USER=alice", "QUERY=a=b", "EMPTY="})
	if err != nil {
		t.Fatalf("parseVars failed: %v", err)
	}
	want := map[string]any{"USER": "alice", "QUERY": "a=b", "EMPTY": ""}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseVars([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	names := make(map[string]bool)
	for _, f := range GlobalFlags {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, want := range []string{"config", "platform", "p", "hierarchy", "log-file", "log-level", "verbose", "no-ansi"} {
		if !names[want] {
			t.Errorf("missing global flag %q", want)
		}
	}
}

func TestRunRequiresAsset(t *testing.T) {
	_, _, err := runApp(t, "", "run")
	if err == nil || !strings.Contains(err.Error(), "asset") {
		t.Fatalf("expected missing asset error, got %v", err)
	}
}

func TestRunPasses(t *testing.T) {
	dir := t.TempDir()
	asset := writeFile(t, dir, "login.yaml", `
name: login
actions:
  - type: .userName
    text: ${USER}
  - tap: ^{Log In}
  - assert: ^{Log In}
    count: 1
`)
	out, _, err := runApp(t, "", "run", "--var", "USER=alice", asset)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	for _, want := range []string{
		"login (auto, 3 actions)",
		"✓ actions.0 (type)",
		"✓ actions.1 (tap)",
		"✓ actions.2 (assert)",
		"✓ PASS login  3 passed, 0 failed, 0 skipped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunFailureReturnsError(t *testing.T) {
	dir := t.TempDir()
	asset := writeFile(t, dir, "broken.yaml", `
actions:
  - tap: ^{Nope}
  - tap: ^{Log In}
`)
	out, _, err := runApp(t, "", "run", asset)
	if err == nil || !strings.Contains(err.Error(), "run failed") {
		t.Fatalf("expected failed run, got %v", err)
	}
	if !strings.Contains(out, "✗ actions.0 (tap)") {
		t.Errorf("expected failed step in output:\n%s", out)
	}
	if !strings.Contains(out, "1 items not run") {
		t.Errorf("expected dropped item count in output:\n%s", out)
	}
}

func TestRunStepModeSkips(t *testing.T) {
	dir := t.TempDir()
	asset := writeFile(t, dir, "steps.yaml", `
actions:
  - tap: ^{Log In}
  - press: home
`)
	out, errOut, err := runApp(t, "skip\nskip\n", "run", "--type", "step", asset)
	if err != nil {
		t.Fatalf("run failed: %v\n%s%s", err, out, errOut)
	}
	for _, want := range []string{
		"paused before actions.0 (tap) [resume next skip stop]",
		"paused before actions.1 (press)",
		"- actions.0 (tap)",
		"- actions.1 (press)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunEndOfInputStops(t *testing.T) {
	dir := t.TempDir()
	asset := writeFile(t, dir, "interactive.yaml", `
actions:
  - tap: ^{Nope}
  - tap: ^{Log In}
`)
	_, _, err := runApp(t, "", "run", "--type", "interactive", asset)
	if err == nil || !strings.Contains(err.Error(), "stopped") {
		t.Fatalf("expected stopped run, got %v", err)
	}
}

func TestRunRejectsUnknownOperatorCommand(t *testing.T) {
	dir := t.TempDir()
	asset := writeFile(t, dir, "steps.yaml", `
actions:
  - tap: ^{Log In}
`)
	_, errOut, err := runApp(t, "jump\nstop\n", "run", "--type", "step", asset)
	if err == nil || !strings.Contains(err.Error(), "stopped") {
		t.Fatalf("expected stopped run, got %v", err)
	}
	if !strings.Contains(errOut, `unknown operator action "jump"`) {
		t.Errorf("expected rejection on stderr, got %q", errOut)
	}
}

func TestRunNestedCall(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "enter.yaml", `
name: enter
actions:
  - type: .userName
    text: bob
`)
	asset := writeFile(t, dir, "main.yaml", `
name: main
actions:
  - call: enter
  - tap: ^{Log In}
`)
	out, _, err := runApp(t, "", "run", asset)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "▸ enter") || !strings.Contains(out, "✓ enter") {
		t.Errorf("expected nested run markers:\n%s", out)
	}
}

func TestRunCallFromHomeAssets(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(home, "assets"), "shared.yaml", `
actions:
  - type: .userName
    text: bob
`)
	asset := writeFile(t, t.TempDir(), "main.yaml", `
actions:
  - call: shared
`)
	out, _, err := runAppHome(t, home, "", "run", asset)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ shared") {
		t.Errorf("expected the shared asset to run:\n%s", out)
	}
}

func TestRunPlatformFromPageSource(t *testing.T) {
	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.xml", `<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0">
  <node index="0" class="android.widget.Button" resource-id="login" text="Log In" bounds="[0,100][200,200]"/>
</hierarchy>`)
	asset := writeFile(t, dir, "plat.yaml", `
actions:
  - tap: .login
    platforms: android
  - tap: "#missing"
    platforms: ios
`)
	out, _, err := runApp(t, "", "--hierarchy", dump, "run", asset)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(auto, 1 actions)") {
		t.Errorf("expected the ios-only action to be filtered:\n%s", out)
	}

	// An explicit platform wins over the one the dump implies.
	_, _, err = runApp(t, "", "--platform", "web", "--hierarchy", dump, "run", asset)
	if err != nil {
		t.Errorf("run with explicit platform failed: %v", err)
	}
}

func TestRunStrictOrphan(t *testing.T) {
	dir := t.TempDir()
	asset := writeFile(t, dir, "orphan.yaml", `
actions:
  - frobnicate: x
`)
	_, _, err := runApp(t, "", "run", "--strict", asset)
	var orphan *action.OrphanedActionError
	if !errors.As(err, &orphan) {
		t.Fatalf("expected OrphanedActionError, got %v", err)
	}
	if orphan.RealPath != "actions.0" {
		t.Errorf("expected realpath actions.0, got %q", orphan.RealPath)
	}

	// Without --strict the orphan is skipped.
	if _, _, err := runApp(t, "", "run", asset); err != nil {
		t.Fatalf("non-strict run failed: %v", err)
	}
}

func TestRunPersistentVariables(t *testing.T) {
	dir := t.TempDir()
	varsFile := filepath.Join(dir, "state", "vars.yaml")
	asset := writeFile(t, dir, "save.yaml", `
actions:
  - set: token
    value: abc
    persistent: true
`)
	if _, _, err := runApp(t, "", "run", "--vars-file", varsFile, asset); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	f, err := vars.OpenFile(varsFile)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	v, ok, _ := f.Get(context.Background(), "token")
	if !ok || v != "abc" {
		t.Errorf("expected persisted token=abc, got %v (%v)", v, ok)
	}
}

func TestRunRedisGlobals(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	asset := writeFile(t, dir, "global.yaml", `
actions:
  - set: shared
    value: "42"
    global: true
`)
	if _, _, err := runApp(t, "", "run", "--redis-addr", mr.Addr(), asset); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rb := vars.NewRedis(mr.Addr(), "", 0)
	defer rb.Close()
	v, ok, err := rb.Get(context.Background(), "shared")
	if err != nil || !ok || v != "42" {
		t.Errorf("expected shared=42 in redis, got %v (%v, %v)", v, ok, err)
	}
}

func TestRunRedisUnreachable(t *testing.T) {
	dir := t.TempDir()
	asset := writeFile(t, dir, "a.yaml", `actions: [{press: home}]`)
	_, _, err := runApp(t, "", "run", "--redis-addr", "127.0.0.1:1", asset)
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("expected redis error, got %v", err)
	}
}

func TestRunConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "screen.json", screenJSON)
	cfgPath := writeFile(t, dir, "config.yaml", `
platform: ios
variables:
  LABEL: Log In
`)
	asset := writeFile(t, dir, "cfg.yaml", `
actions:
  - tap: ^{${LABEL}}
  - tap: "#missing"
    platforms: android
`)
	out, _, err := runApp(t, "", "--config", cfgPath, "--hierarchy", filepath.Join(dir, "screen.json"), "run", asset)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(auto, 1 actions)") {
		t.Errorf("expected the android-only action to be filtered:\n%s", out)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "runType: sometimes\n")
	asset := writeFile(t, dir, "a.yaml", `actions: [{press: home}]`)
	if _, _, err := runApp(t, "", "--config", cfgPath, "run", asset); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestQuery(t *testing.T) {
	dir := t.TempDir()
	screen := writeFile(t, dir, "screen.json", screenJSON)

	out, _, err := runApp(t, "", "--hierarchy", screen, "query", "--ids", "@{Username}")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if diff := cmp.Diff("textfield:0\ntextfield:1\n", out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	out, _, err = runApp(t, "", "--hierarchy", screen, "query", "#{textfield:0} > @{Username}")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if !strings.Contains(out, "textfield:1 #userName textfield") || !strings.Contains(out, "1 matched") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestQueryErrors(t *testing.T) {
	dir := t.TempDir()
	screen := writeFile(t, dir, "screen.json", screenJSON)

	if _, _, err := runApp(t, "", "--hierarchy", screen, "query", "^{Nope}"); err == nil {
		t.Error("expected error for empty match")
	}
	if _, _, err := runApp(t, "", "query", "^{Nope}"); err == nil || !strings.Contains(err.Error(), "--hierarchy") {
		t.Errorf("expected missing hierarchy error, got %v", err)
	}
	_, _, err := runApp(t, "", "--hierarchy", screen, "query", "#a<.b")
	var serr *selector.InvalidSelectorError
	if !errors.As(err, &serr) {
		t.Errorf("expected InvalidSelectorError, got %v", err)
	}
}

func TestQueryPageSource(t *testing.T) {
	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.xml", `<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0">
  <node index="0" class="android.widget.FrameLayout" bounds="[0,0][1080,1920]">
    <node index="0" class="android.widget.Button" resource-id="login" text="Log In" content-desc="" bounds="[0,100][200,200]"/>
  </node>
</hierarchy>`)

	out, _, err := runApp(t, "", "--hierarchy", dump, "query", "--ids", ".login[type=button]")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if out != "button:0\n" {
		t.Errorf("expected button:0, got %q", out)
	}

	// Forcing the iOS normalizer on an Android dump still yields a tree.
	if _, _, err := runApp(t, "", "--platform", "ios", "--hierarchy", dump, "tree"); err != nil {
		t.Errorf("tree with ios normalizer failed: %v", err)
	}
}

func TestCompile(t *testing.T) {
	out, _, err := runApp(t, "", "compile", "#textfield:0 > @Username")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	want := []string{
		"#{textfield:0} > @{Username}",
		"  1  start      #{textfield:0}",
		"  2  child      @{Username}",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	out, _, err = runApp(t, "", "compile", "#a <")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(out, "parent     (any)") {
		t.Errorf("expected trailing match-all group:\n%s", out)
	}

	if _, _, err := runApp(t, "", "compile", "#a >.b"); err == nil {
		t.Error("expected compile error")
	}
}

func TestTree(t *testing.T) {
	dir := t.TempDir()
	screen := writeFile(t, dir, "screen.json", screenJSON)

	out, _, err := runApp(t, "", "--hierarchy", screen, "tree")
	if err != nil {
		t.Fatalf("tree failed: %v", err)
	}
	for _, want := range []string{
		"window:0 \"Main\" window",
		"  textfield:0 #userName textfield",
		"    textfield:1 #userName textfield",
		"4 elements, height 2, hash ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, _, err = runApp(t, "", "--hierarchy", screen, "tree", "--format", "json")
	if err != nil {
		t.Fatalf("tree --format json failed: %v", err)
	}
	var roots []map[string]any
	if err := json.Unmarshal([]byte(out), &roots); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(roots) != 1 || roots[0]["type"] != "window" {
		t.Errorf("unexpected export: %v", roots)
	}

	if _, _, err := runApp(t, "", "--hierarchy", screen, "tree", "--format", "xml"); err == nil {
		t.Error("expected unknown format error")
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.yaml", `actions: [{call: sub}, {tap: "^{Log In}"}]`)
	writeFile(t, dir, "sub.yaml", `actions: [{press: home}]`)

	out, _, err := runApp(t, "", "check", dir)
	if err != nil {
		t.Fatalf("check failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 assets valid") {
		t.Errorf("unexpected output:\n%s", out)
	}

	writeFile(t, dir, "bad.yaml", `actions: [{tap: "#a>.b"}, {frobnicate: 1}]`)
	out, _, err = runApp(t, "", "check", "--strict", dir)
	if err == nil {
		t.Fatalf("expected validation failure:\n%s", out)
	}
	if !strings.Contains(out, "orphaned action at actions.1") {
		t.Errorf("expected orphan report:\n%s", out)
	}
}
