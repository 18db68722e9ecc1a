package selector

import (
	"strconv"

	"github.com/devicelab-dev/action-runner/pkg/tree"
)

// Evaluate compiles text and evaluates it against t.
func Evaluate(t *tree.Tree, text string) (tree.ElementSet, error) {
	c, err := Compile(text)
	if err != nil {
		return tree.ElementSet{}, err
	}
	return c.Evaluate(t), nil
}

// Evaluate runs the pipeline over the tree's current snapshot.
func (c *Compiled) Evaluate(t *tree.Tree) tree.ElementSet {
	return c.EvaluateSet(t.All())
}

// EvaluateSet runs the pipeline over the snapshot the set belongs to.
func (c *Compiled) EvaluateSet(s tree.ElementSet) tree.ElementSet {
	return c.eval(s.Universe(), nil)
}

// Within re-applies the selector to an existing result: the first group is
// matched only against members of set, and later combinators range over the
// whole snapshot. A leading combinator relates to the members of set.
func (c *Compiled) Within(set tree.ElementSet) tree.ElementSet {
	return c.eval(set.Universe(), &set)
}

func (c *Compiled) eval(universe tree.ElementSet, anchor *tree.ElementSet) tree.ElementSet {
	all := universe.Elements()
	if len(all) == 0 {
		return universe
	}

	var cur []*tree.Element
	for i, step := range c.steps {
		var cands []*tree.Element
		if i == 0 {
			switch step.Combinator {
			case CombinatorNone:
				if anchor != nil {
					cands = anchor.Elements()
				} else {
					cands = all
				}
			case CombinatorAscend:
				if anchor != nil {
					cands = relate(CombinatorAscend, anchor.Elements(), all)
				}
			default:
				prior := all
				if anchor != nil {
					prior = anchor.Elements()
				}
				cands = relate(step.Combinator, prior, all)
			}
		} else {
			cands = relate(step.Combinator, cur, all)
		}
		cur = step.Group.apply(cands, universe)
		if len(cur) == 0 {
			break
		}
	}
	return tree.NewSet(universe, cur)
}

// relate returns, in document order, the elements standing in the
// combinator's relationship to prior.
func relate(comb Combinator, prior, all []*tree.Element) []*tree.Element {
	if len(prior) == 0 {
		return nil
	}
	inPrior := make([]bool, len(all))
	for _, e := range prior {
		inPrior[e.Index()] = true
	}

	var out []*tree.Element
	switch comb {
	case CombinatorChild:
		for _, e := range all {
			if p := e.Parent(); p != nil && inPrior[p.Index()] {
				out = append(out, e)
			}
		}
	case CombinatorDescendant:
		// Parents precede children in document order, so one pass suffices.
		under := make([]bool, len(all))
		for _, e := range all {
			p := e.Parent()
			if p == nil {
				continue
			}
			if inPrior[p.Index()] || under[p.Index()] {
				under[e.Index()] = true
				out = append(out, e)
			}
		}
	case CombinatorAscend:
		isParent := make([]bool, len(all))
		for _, e := range prior {
			if p := e.Parent(); p != nil {
				isParent[p.Index()] = true
			}
		}
		for _, e := range all {
			if isParent[e.Index()] {
				out = append(out, e)
			}
		}
	}
	return out
}

// apply filters candidates by the group's conditions, then applies Nth
// narrowing to the survivors in order of appearance.
func (g Group) apply(cands []*tree.Element, universe tree.ElementSet) []*tree.Element {
	if len(cands) == 0 {
		return nil
	}

	for _, a := range g.Atoms {
		if a.Kind != AtomID {
			continue
		}
		e, ok := universe.Lookup(a.Text)
		if !ok {
			return nil
		}
		found := false
		for _, c := range cands {
			if c == e {
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		cands = []*tree.Element{e}
		break
	}

	out := make([]*tree.Element, 0, len(cands))
	for _, e := range cands {
		if g.holds(e) {
			out = append(out, e)
		}
	}

	for _, a := range g.Atoms {
		if a.Kind != AtomNth {
			continue
		}
		if a.N >= len(out) {
			return nil
		}
		out = []*tree.Element{out[a.N]}
	}
	return out
}

func (g Group) holds(e *tree.Element) bool {
	for _, a := range g.Atoms {
		if !a.holds(e) {
			return false
		}
	}
	return true
}

func (a Atom) holds(e *tree.Element) bool {
	switch a.Kind {
	case AtomID:
		return e.ID == a.Text
	case AtomName:
		return e.Name == a.Text
	case AtomLabel:
		return e.Label == a.Text
	case AtomValue:
		return e.Value == a.Text
	case AtomWildcard, AtomNth:
		return true
	case AtomAttribute:
		lhs, ok := a.Path.Resolve(e)
		if !ok {
			return false
		}
		if a.Op == OpMatch {
			matched, err := a.re.MatchString(lhs)
			return err == nil && matched
		}
		if a.isNum {
			if f, err := strconv.ParseFloat(lhs, 64); err == nil {
				return f == a.num
			}
		}
		return lhs == a.Text
	}
	return false
}
