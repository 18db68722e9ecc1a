// Package syntax provides the built-in action handlers.
//
// Every handler decodes its node into a typed argument struct with
// mapstructure, does its work synchronously and replies exactly once.
package syntax

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/selector"
)

// DefaultActionPaths are the paths at which built-in actions are recognized.
var DefaultActionPaths = []string{"actions.*", "**.actions.*"}

// SelectorKeys maps built-in syntax names to the key whose value is a
// selector.
var SelectorKeys = map[string]string{
	"tap":    "tap",
	"type":   "type",
	"assert": "assert",
}

// selectors is shared by every session; compiled selectors are immutable.
var selectors = selector.NewCache(256)

// Builtins returns the built-in syntaxes in registration order.
func Builtins() []action.Syntax {
	return []action.Syntax{
		{Name: "tap", Required: []string{"tap"}, Optional: []string{"index", "timeout"}, Handler: handle(tap)},
		{Name: "type", Required: []string{"type", "text"}, Optional: []string{"index", "timeout"}, Handler: handle(typeText)},
		{Name: "assert", Required: []string{"assert"}, Optional: []string{"count", "exists", "value", "timeout"}, Handler: handle(assert)},
		{Name: "press", Required: []string{"press"}, Handler: handle(press)},
		{Name: "wait", Required: []string{"wait"}, Handler: handle(wait)},
		{Name: "set", Required: []string{"set", "value"}, Optional: []string{"persistent", "global"}, Handler: handle(set)},
		{Name: "log", Required: []string{"log"}, Optional: []string{"level"}, Handler: handle(logMessage)},
		{Name: "script", Required: []string{"script"}, Optional: []string{"result"}, Handler: handle(script)},
		{Name: "call", Required: []string{"call"}, Handler: handle(call)},
		{Name: "group", Required: []string{"group", "actions"}, Handler: handle(group)},
	}
}

// Register installs DefaultActionPaths, any extra paths, and the built-ins.
func Register(reg *action.Registry, extraPaths ...string) error {
	if err := reg.AddActionPath(DefaultActionPaths...); err != nil {
		return err
	}
	if len(extraPaths) > 0 {
		if err := reg.AddActionPath(extraPaths...); err != nil {
			return err
		}
	}
	for _, s := range Builtins() {
		if err := reg.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", s.Name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-ins.
func NewRegistry(extraPaths ...string) (*action.Registry, error) {
	reg := action.NewRegistry()
	if err := Register(reg, extraPaths...); err != nil {
		return nil, err
	}
	return reg, nil
}

// handle adapts a typed handler. A nil error replies success with the
// returned message; otherwise the error text is the failure message.
func handle[T any](fn func(s *action.Scope, args *T) (string, error)) action.Handler {
	return func(s *action.Scope, n *action.Node, reply action.Reply) {
		var args T
		if err := decode(n, &args); err != nil {
			reply(false, err.Error())
			return
		}
		msg, err := fn(s, &args)
		if err != nil {
			s.Log.Debug("%v", err)
			reply(false, err.Error())
			return
		}
		if msg != "" {
			s.Log.Debug("%s", msg)
		}
		reply(true, msg)
	}
}

func decode(n *action.Node, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(n.Value()); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
