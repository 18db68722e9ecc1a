// Package selector compiles and evaluates the element query language.
//
// A selector is a pipeline of groups joined by combinators:
//
//	#{textfield:0} > @{Username}[nth=0]
//
// Atoms written without whitespace between them form one group and must all
// hold for the same element. Whitespace between groups means "descendant";
// " > " means "child" and " < " means "parent of the previous match". The
// '<' and '>' combinators must be surrounded by whitespace.
package selector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// AtomKind identifies an atom variant.
type AtomKind int

// Atom kinds.
const (
	AtomID AtomKind = iota
	AtomName
	AtomLabel
	AtomValue
	AtomWildcard
	AtomAttribute
	AtomNth
)

// Op is an attribute predicate operator.
type Op int

// Attribute operators.
const (
	OpEq    Op = iota // typed equality
	OpMatch           // regular expression
)

// Combinator joins a group to the match set before it.
type Combinator int

// Combinators. CombinatorNone marks a leading group with nothing before it.
const (
	CombinatorNone Combinator = iota
	CombinatorDescendant
	CombinatorChild
	CombinatorAscend
)

// String returns the combinator's source token.
func (c Combinator) String() string {
	switch c {
	case CombinatorDescendant:
		return " "
	case CombinatorChild:
		return ">"
	case CombinatorAscend:
		return "<"
	default:
		return ""
	}
}

// Atom is a single condition on an element, or an Nth narrowing of a group.
type Atom struct {
	Kind AtomKind
	Text string // reference for id/name/label/value, right-hand side for attributes
	Path Path
	Op   Op
	N    int

	// Literal marks a "/pattern/flags" right-hand side of a match.
	Literal bool

	num   float64
	isNum bool
	re    *regexp2.Regexp
}

// Group is a conjunction of atoms.
type Group struct {
	Atoms []Atom
}

// Step is one group and the combinator linking it to the previous step.
type Step struct {
	Combinator Combinator
	Group      Group
}

// Compiled is an immutable, reusable compiled selector.
type Compiled struct {
	text  string
	steps []Step
}

// Source returns the selector text the pipeline was compiled from.
func (c *Compiled) Source() string {
	return c.text
}

// Steps returns a copy of the compiled pipeline.
func (c *Compiled) Steps() []Step {
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// String renders the canonical form of the selector.
func (c *Compiled) String() string {
	var b strings.Builder
	for i, s := range c.steps {
		switch {
		case s.Combinator == CombinatorDescendant && i > 0:
			b.WriteString(" ")
		case s.Combinator == CombinatorChild || s.Combinator == CombinatorAscend:
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(s.Combinator.String())
			if len(s.Group.Atoms) > 0 {
				b.WriteString(" ")
			}
		}
		b.WriteString(s.Group.String())
	}
	return b.String()
}

// String renders the group's atoms.
func (g Group) String() string {
	var b strings.Builder
	for _, a := range g.Atoms {
		b.WriteString(a.String())
	}
	return b.String()
}

// String renders the atom in braced form.
func (a Atom) String() string {
	switch a.Kind {
	case AtomID:
		return "#{" + a.Text + "}"
	case AtomName:
		return ".{" + a.Text + "}"
	case AtomLabel:
		return "^{" + a.Text + "}"
	case AtomValue:
		return "@{" + a.Text + "}"
	case AtomWildcard:
		return "*"
	case AtomNth:
		return "[nth=" + strconv.Itoa(a.N) + "]"
	case AtomAttribute:
		op := "="
		if a.Op == OpMatch {
			op = "~"
		}
		if a.Literal {
			return "[" + a.Path.Raw + op + a.Text + "]"
		}
		return "[" + a.Path.Raw + op + "{" + a.Text + "}]"
	}
	return fmt.Sprintf("<atom %d>", a.Kind)
}

// InvalidSelectorError reports a malformed selector string.
type InvalidSelectorError struct {
	Selector string
	Offset   int // byte offset of the problem
	Reason   string
}

func (e *InvalidSelectorError) Error() string {
	return fmt.Sprintf("invalid selector %q at offset %d: %s", e.Selector, e.Offset, e.Reason)
}
