package syntax

import (
	"fmt"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/core"
)

type callArgs struct {
	Asset string `mapstructure:"call"`
}

// call loads an asset and runs it as a nested run of the current one.
func call(s *action.Scope, args *callArgs) (string, error) {
	if s.Session.Loader == nil {
		return "", core.ErrInvalidConfig.WithMessage("no asset loader configured for call %q", args.Asset)
	}
	if s.Session.Run == nil {
		return "", &core.InvalidArgumentsError{Op: "call", Reason: "not running inside a run"}
	}
	asset, err := s.Session.Loader.Load(args.Asset)
	if err != nil {
		return "", err
	}
	if err := s.Session.Run.Call(s.Ctx, asset); err != nil {
		return "", err
	}
	return "called " + asset.Name, nil
}

type groupArgs struct {
	Name    string `mapstructure:"group"`
	Actions any    `mapstructure:"actions"`
}

// group always succeeds; its children are queued after it.
func group(s *action.Scope, args *groupArgs) (string, error) {
	n := 0
	if list, ok := args.Actions.([]any); ok {
		n = len(list)
	}
	return fmt.Sprintf("group %s (%d actions)", args.Name, n), nil
}
