package selector

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/action-runner/pkg/tree"
)

const loginHierarchy = `{
  "type": "window",
  "label": "Main",
  "rect": {"origin": {"x": 0, "y": 0}, "size": {"width": 390, "height": 844}},
  "children": [
    {
      "type": "textfield",
      "name": "userName",
      "label": "userName",
      "value": "Username",
      "rect": {"origin": {"x": 20, "y": 100}, "size": {"width": 350, "height": 44}},
      "children": [
        {
          "type": "textfield",
          "name": "userName",
          "label": "userName",
          "value": "Username",
          "rect": {"origin": {"x": 24, "y": 104}, "size": {"width": 300, "height": 36}}
        }
      ]
    },
    {
      "type": "group",
      "name": "actions",
      "children": [
        {"type": "button", "name": "login", "label": "Log In", "enabled": "true",
         "rect": {"origin": {"x": 20, "y": 200}, "size": {"width": 350, "height": 50}}},
        {"type": "button", "name": "help", "label": "Help", "enabled": "false",
         "rect": {"origin": {"x": 20, "y": 260}, "size": {"width": 350, "height": 50}}}
      ]
    }
  ]
}`

func buildTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr, err := tree.BuildJSON([]byte(loginHierarchy))
	if err != nil {
		t.Fatalf("BuildJSON failed: %v", err)
	}
	return tr
}

func eval(t *testing.T, tr *tree.Tree, sel string) []string {
	t.Helper()
	set, err := Evaluate(tr, sel)
	if err != nil {
		t.Fatalf("Evaluate(%q) failed: %v", sel, err)
	}
	return set.IDs()
}

func TestEvaluateScenario(t *testing.T) {
	tr := buildTree(t)

	tests := []struct {
		sel  string
		want []string
	}{
		{"@{Username}", []string{"textfield:0", "textfield:1"}},
		{"@{Username} @{Username}", []string{"textfield:1"}},
		{"#{textfield:0} > @{Username}", []string{"textfield:1"}},
		{"#{textfield:1} < *", []string{"textfield:0"}},
		{"#{textfield:1} <", []string{"textfield:0"}},
		{"#{textfield:1} < <", nil},
	}

	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			set, err := Evaluate(tr, tt.sel)
			if err != nil {
				if tt.want == nil {
					return
				}
				t.Fatalf("Evaluate failed: %v", err)
			}
			if tt.want == nil {
				t.Fatalf("expected compile error, got %v", set.IDs())
			}
			if diff := cmp.Diff(tt.want, set.IDs()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateAtoms(t *testing.T) {
	tr := buildTree(t)

	tests := []struct {
		sel  string
		want []string
	}{
		{"#button:1", []string{"button:1"}},
		{"#{missing:0}", []string{}},
		{".userName", []string{"textfield:0", "textfield:1"}},
		{"^{Log In}", []string{"button:0"}},
		{"*", []string{"window:0", "textfield:0", "textfield:1", "group:0", "button:0", "button:1"}},
		{"[type=button]", []string{"button:0", "button:1"}},
		{"[rect.origin.y=200]", []string{"button:0"}},
		{"[rect.origin.y=200.0]", []string{"button:0"}},
		{"[level=2]", []string{"textfield:1", "button:0", "button:1"}},
		{"[parent.id=group:0]", []string{"button:0", "button:1"}},
		{"[parent.parent.label=Main]", []string{"textfield:1", "button:0", "button:1"}},
		{"[attributes.enabled=true]", []string{"button:0"}},
		{"[label~^user]", []string{"textfield:0", "textfield:1"}},
		{"[label~/^LOG/i]", []string{"button:0"}},
		{"[label={Log In}]", []string{"button:0"}},
		{"[label=\"Log In\"]", []string{"button:0"}},
		{"[no.such.path=1]", []string{}},
		{"[delta=2]", []string{"window:0"}},
	}

	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, eval(t, tr, tt.sel)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateCombinators(t *testing.T) {
	tr := buildTree(t)

	tests := []struct {
		sel  string
		want []string
	}{
		{"#window:0 > *", []string{"textfield:0", "group:0"}},
		{"#window:0 *", []string{"textfield:0", "textfield:1", "group:0", "button:0", "button:1"}},
		{"#window:0 > [type=button]", []string{}},
		{"#window:0 [type=button]", []string{"button:0", "button:1"}},
		{"[type=button] < *", []string{"group:0"}},
		{"[type=button] < .actions < ^Main", []string{"window:0"}},
		{"#window:0 <", []string{}},
		{">", []string{"textfield:0", "textfield:1", "group:0", "button:0", "button:1"}},
		{"<", []string{}},
		{"> [type=button]", []string{"button:0", "button:1"}},
		{"#group:0 >", []string{"button:0", "button:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, eval(t, tr, tt.sel)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestChildExcludesGrandchildren(t *testing.T) {
	tr := buildTree(t)
	got := eval(t, tr, "#{window:0} > [type=textfield]")
	if diff := cmp.Diff([]string{"textfield:0"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestAscendDeduplicates(t *testing.T) {
	tr := buildTree(t)
	got := eval(t, tr, "#group:0 > * <")
	if diff := cmp.Diff([]string{"group:0"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestConjunctionIsIntersection(t *testing.T) {
	tr := buildTree(t)
	pairs := [][2]string{
		{".userName", "[level=2]"},
		{"[type=button]", "^Help"},
		{"*", "@Username"},
		{"[label~^user]", "#textfield:0"},
	}

	for _, p := range pairs {
		a, _ := Evaluate(tr, p[0])
		b, _ := Evaluate(tr, p[1])
		joined := eval(t, tr, p[0]+p[1])
		if diff := cmp.Diff(a.Intersect(b).IDs(), joined); diff != "" {
			t.Errorf("%s%s is not the intersection (-want +got):\n%s", p[0], p[1], diff)
		}
	}
}

func TestNthDeterminism(t *testing.T) {
	tr := buildTree(t)
	sels := []string{"*", "@{Username}", "#window:0 [type=button]", "[type=button] < *"}

	for _, sel := range sels {
		full := eval(t, tr, sel)
		for k := 0; k <= len(full); k++ {
			got := eval(t, tr, sel+"[nth="+itoa(k)+"]")
			if k < len(full) {
				if diff := cmp.Diff([]string{full[k]}, got); diff != "" {
					t.Errorf("%s[nth=%d] mismatch (-want +got):\n%s", sel, k, diff)
				}
			} else if len(got) != 0 {
				t.Errorf("%s[nth=%d] expected empty, got %v", sel, k, got)
			}
		}
	}
}

func TestNthInMiddleGroup(t *testing.T) {
	tr := buildTree(t)
	got := eval(t, tr, "[type=textfield][nth=0] > *")
	if diff := cmp.Diff([]string{"textfield:1"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"#a.b[nth=0]<.c.d[nth=0]",
		"#a >.b",
		"#a> .b",
		"#a < < .b",
		"#a > > .b",
		"#{unterminated",
		"[label=Log",
		"[label]",
		"[=x]",
		"[nth=-1]",
		"[nth=first]",
		"[nth~1]",
		"[label~(]",
		"[label~/abc]",
		"[label~/abc/q]",
		"#",
		"a",
		"#a ]",
	}

	for _, sel := range tests {
		t.Run(sel, func(t *testing.T) {
			c, err := Compile(sel)
			var serr *InvalidSelectorError
			if !errors.As(err, &serr) {
				t.Fatalf("expected InvalidSelectorError, got %v (%v)", err, c)
			}
			if serr.Selector != sel {
				t.Errorf("error should carry the selector text, got %q", serr.Selector)
			}
		})
	}
}

func TestCompileSteps(t *testing.T) {
	c := MustCompile("#a.b[nth=0] < .c [x=1] > *")
	steps := c.Steps()
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}

	wantComb := []Combinator{CombinatorNone, CombinatorAscend, CombinatorDescendant, CombinatorChild}
	for i, s := range steps {
		if s.Combinator != wantComb[i] {
			t.Errorf("step %d: expected combinator %v, got %v", i, wantComb[i], s.Combinator)
		}
	}
	if kinds := len(steps[0].Group.Atoms); kinds != 3 {
		t.Errorf("expected 3 atoms in the first group, got %d", kinds)
	}
	if steps[3].Group.Atoms[0].Kind != AtomWildcard {
		t.Errorf("expected wildcard in last group")
	}
}

func TestCanonicalStringRecompiles(t *testing.T) {
	sels := []string{
		"#a.b[nth=0] < .c",
		"> @{two words}",
		"[label~/^x/i] [rect.origin.x=10]",
		"#window:0 >",
	}
	tr := buildTree(t)

	for _, sel := range sels {
		c := MustCompile(sel)
		again, err := Compile(c.String())
		if err != nil {
			t.Fatalf("canonical form %q of %q does not compile: %v", c.String(), sel, err)
		}
		if diff := cmp.Diff(c.Evaluate(tr).IDs(), again.Evaluate(tr).IDs()); diff != "" {
			t.Errorf("%q and %q disagree (-want +got):\n%s", sel, c.String(), diff)
		}
	}
}

func TestQuotedRegexIsBarePattern(t *testing.T) {
	tr, err := tree.BuildJSON([]byte(`{"type": "window", "children": [
		{"type": "link", "value": "/a/b"},
		{"type": "link", "value": "ab"}
	]}`))
	if err != nil {
		t.Fatalf("BuildJSON failed: %v", err)
	}

	tests := []struct {
		sel     string
		literal bool
		want    []string
	}{
		{`[value~"/a/b"]`, false, []string{"link:0"}},
		{`[value~{/a/b}]`, false, []string{"link:0"}},
		{`[value~/^a/]`, true, []string{"link:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			c, err := Compile(tt.sel)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			if got := c.Steps()[0].Group.Atoms[0].Literal; got != tt.literal {
				t.Errorf("Literal = %v, want %v", got, tt.literal)
			}
			if diff := cmp.Diff(tt.want, c.Evaluate(tr).IDs()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			again, err := Compile(c.String())
			if err != nil {
				t.Fatalf("canonical form %q does not compile: %v", c.String(), err)
			}
			if diff := cmp.Diff(tt.want, again.Evaluate(tr).IDs()); diff != "" {
				t.Errorf("canonical form %q mismatch (-want +got):\n%s", c.String(), diff)
			}
		})
	}
}

func TestWithin(t *testing.T) {
	tr := buildTree(t)
	buttons := tr.ByType("button")

	got := MustCompile("^Help").Within(buttons).IDs()
	if diff := cmp.Diff([]string{"button:1"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// First group only considers members of the set.
	if n := MustCompile("#window:0").Within(buttons).Len(); n != 0 {
		t.Errorf("expected no match outside the set, got %d", n)
	}

	// A leading ascend relates to the members of the set.
	got = MustCompile("<").Within(buttons).IDs()
	if diff := cmp.Diff([]string{"group:0"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCache(t *testing.T) {
	c := NewCache(2)

	a1, err := c.Compile("#a")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	a2, _ := c.Compile("#a")
	if a1 != a2 {
		t.Error("expected cached pipeline to be reused")
	}

	c.Compile(".b")
	c.Compile("^c")
	if c.Len() != 2 {
		t.Errorf("expected cache bounded at 2, got %d", c.Len())
	}

	if _, err := c.Compile("#a<.b"); err == nil {
		t.Error("expected compile error")
	}
	if c.Len() != 2 {
		t.Error("errors must not be cached")
	}
}

func itoa(n int) string {
	return string(rune('0' + n))
}
