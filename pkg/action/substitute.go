package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/vars"
)

// DefaultVariablePattern matches ${name} references. Group 1 is the name.
const DefaultVariablePattern = `\$\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`

// NullText replaces references to missing or null variables.
const NullText = "(null)"

const maxSubstitutionPasses = 16

// ErrUnresolvedReference is returned when replacements keep producing new
// references, as with a variable that refers to itself.
var ErrUnresolvedReference = errors.New("variable references did not settle")

// Substituter replaces variable references in string leaves.
type Substituter struct {
	re *regexp2.Regexp
}

// NewSubstituter compiles pattern with ECMAScript semantics. The empty
// pattern selects DefaultVariablePattern. The pattern needs a capture group
// holding the variable name.
func NewSubstituter(pattern string) (*Substituter, error) {
	if pattern == "" {
		pattern = DefaultVariablePattern
	}
	re, err := regexp2.Compile(pattern, regexp2.ECMAScript)
	if err != nil {
		return nil, &core.InvalidArgumentsError{Op: "action.NewSubstituter", Reason: err.Error()}
	}
	if len(re.GetGroupNumbers()) < 2 {
		return nil, &core.InvalidArgumentsError{Op: "action.NewSubstituter", Reason: "pattern has no capture group"}
	}
	re.MatchTimeout = time.Second
	return &Substituter{re: re}, nil
}

// String substitutes text until no reference remains.
func (s *Substituter) String(text string, store vars.Store) (string, error) {
	cur := text
	for pass := 0; pass <= maxSubstitutionPasses; pass++ {
		matched, err := s.re.MatchString(cur)
		if err != nil {
			return "", err
		}
		if !matched {
			return cur, nil
		}
		if pass == maxSubstitutionPasses {
			break
		}
		cur, err = s.re.ReplaceFunc(cur, func(m regexp2.Match) string {
			return lookup(store, m.GroupByNumber(1).String())
		}, -1, -1)
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w in %q", ErrUnresolvedReference, text)
}

// Node returns a copy of n with every string leaf substituted. Keys are left
// untouched.
func (s *Substituter) Node(n *Node, store vars.Store) (*Node, error) {
	c := n.Clone()
	if err := s.apply(c, store); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Substituter) apply(n *Node, store vars.Store) error {
	switch n.Kind {
	case KindScalar:
		text, ok := n.Scalar.(string)
		if !ok {
			return nil
		}
		out, err := s.String(text, store)
		if err != nil {
			return err
		}
		n.Scalar = out
	case KindObject:
		for _, k := range n.keys {
			if err := s.apply(n.fields[k], store); err != nil {
				return err
			}
		}
	case KindArray:
		for _, it := range n.Items {
			if err := s.apply(it, store); err != nil {
				return err
			}
		}
	}
	return nil
}

func lookup(store vars.Store, name string) string {
	if store == nil {
		return NullText
	}
	v, ok := store.Get(name)
	if !ok || v == nil {
		return NullText
	}
	return FormatValue(v)
}

// FormatValue renders a variable value for substitution.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return NullText
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
