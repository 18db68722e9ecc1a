package syntax

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/tree"
)

// pollInterval is the delay between captures while waiting on a selector.
var pollInterval = 250 * time.Millisecond

// Capture fetches a fresh hierarchy from the session driver and installs it
// as the session tree. An unchanged capture keeps the previous snapshot.
func Capture(s *action.Scope) (*tree.Tree, error) {
	sess := s.Session
	if sess.Driver == nil {
		return nil, core.ErrDriverUnavailable
	}
	raw, err := sess.Driver.GetTree(s.Ctx)
	if err != nil {
		return nil, core.ErrDriverUnavailable.WithMessage("capture hierarchy").WithCause(err)
	}
	fresh, err := tree.Build(raw)
	if err != nil {
		return nil, fmt.Errorf("capture hierarchy: %w", err)
	}
	if sess.Tree == nil {
		sess.Tree = fresh
		sess.Metrics.Capture(true)
		return fresh, nil
	}
	sess.Metrics.Capture(sess.Tree.Adopt(fresh))
	return sess.Tree, nil
}

// query evaluates sel against fresh captures until accept holds or timeoutMs
// elapses. The last result is returned either way.
func query(s *action.Scope, sel string, timeoutMs int, accept func(tree.ElementSet) bool) (tree.ElementSet, bool, error) {
	c, err := selectors.Compile(sel)
	if err != nil {
		return tree.ElementSet{}, false, err
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		t, err := Capture(s)
		if err != nil {
			return tree.ElementSet{}, false, err
		}
		set := c.Evaluate(t)
		if accept(set) {
			return set, true, nil
		}
		if !time.Now().Before(deadline) {
			return set, false, nil
		}
		select {
		case <-time.After(pollInterval):
		case <-s.Ctx.Done():
			return set, false, s.Ctx.Err()
		}
	}
}

// element resolves sel to its index-th match.
func element(s *action.Scope, sel string, index, timeoutMs int) (*tree.Element, error) {
	set, ok, err := query(s, sel, timeoutMs, func(set tree.ElementSet) bool { return set.Len() > index })
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrElementNotFound.
			WithMessage("no element %d for %q (%d matched)", index, sel, set.Len()).
			WithDetails(map[string]any{"selector": sel, "index": index})
	}
	return set.At(index), nil
}

type tapArgs struct {
	Selector string `mapstructure:"tap"`
	Index    int    `mapstructure:"index"`
	Timeout  int    `mapstructure:"timeout"`
}

func tap(s *action.Scope, args *tapArgs) (string, error) {
	e, err := element(s, args.Selector, args.Index, args.Timeout)
	if err != nil {
		return "", err
	}
	if err := s.Session.Driver.PerformElementInteraction(s.Ctx, "tap", []*tree.Element{e}, nil); err != nil {
		return "", err
	}
	return "tapped " + e.ID, nil
}

type typeArgs struct {
	Selector string `mapstructure:"type"`
	Text     string `mapstructure:"text"`
	Index    int    `mapstructure:"index"`
	Timeout  int    `mapstructure:"timeout"`
}

func typeText(s *action.Scope, args *typeArgs) (string, error) {
	e, err := element(s, args.Selector, args.Index, args.Timeout)
	if err != nil {
		return "", err
	}
	opts := map[string]any{"text": args.Text}
	if err := s.Session.Driver.PerformElementInteraction(s.Ctx, "type", []*tree.Element{e}, opts); err != nil {
		return "", err
	}
	return fmt.Sprintf("typed %d characters into %s", len(args.Text), e.ID), nil
}

type assertArgs struct {
	Selector string  `mapstructure:"assert"`
	Count    *int    `mapstructure:"count"`
	Exists   *bool   `mapstructure:"exists"`
	Value    *string `mapstructure:"value"`
	Timeout  int     `mapstructure:"timeout"`
}

func assert(s *action.Scope, args *assertArgs) (string, error) {
	exists := args.Exists == nil || *args.Exists
	check := func(set tree.ElementSet) bool {
		switch {
		case args.Count != nil:
			if set.Len() != *args.Count {
				return false
			}
		case !exists:
			return set.Empty()
		case set.Empty():
			return false
		}
		if args.Value != nil {
			first, ok := set.First()
			return ok && first.Value == *args.Value
		}
		return true
	}

	set, ok, err := query(s, args.Selector, args.Timeout, check)
	if err != nil {
		return "", err
	}
	if ok {
		return fmt.Sprintf("%q matched %d elements", args.Selector, set.Len()), nil
	}

	details := map[string]any{"selector": args.Selector, "matched": set.Len()}
	switch {
	case args.Count != nil:
		return "", core.ErrCountMismatch.
			WithMessage("%q matched %d elements, expected %d", args.Selector, set.Len(), *args.Count).
			WithDetails(details)
	case !exists:
		return "", core.ErrCountMismatch.
			WithMessage("%q matched %d elements, expected none", args.Selector, set.Len()).
			WithDetails(details)
	case set.Empty():
		return "", core.ErrElementNotFound.WithMessage("%q matched nothing", args.Selector).WithDetails(details)
	}
	first, _ := set.First()
	return "", core.ErrTextMismatch.
		WithMessage("%s has value %q, expected %q", first.ID, first.Value, *args.Value).
		WithDetails(details)
}
