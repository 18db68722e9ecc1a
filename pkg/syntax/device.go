package syntax

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/core"
)

type pressArgs struct {
	Key string `mapstructure:"press"`
}

func press(s *action.Scope, args *pressArgs) (string, error) {
	if s.Session.Driver == nil {
		return "", core.ErrDriverUnavailable
	}
	if err := s.Session.Driver.PerformDeviceInteraction(s.Ctx, "press", map[string]any{"key": args.Key}); err != nil {
		return "", err
	}
	return "pressed " + args.Key, nil
}

type waitArgs struct {
	Millis int `mapstructure:"wait"`
}

func wait(s *action.Scope, args *waitArgs) (string, error) {
	if args.Millis < 0 {
		return "", &core.InvalidArgumentsError{Op: "wait", Reason: "duration must not be negative"}
	}
	d := time.Duration(args.Millis) * time.Millisecond
	select {
	case <-time.After(d):
		return fmt.Sprintf("waited %s", d), nil
	case <-s.Ctx.Done():
		return "", s.Ctx.Err()
	}
}
