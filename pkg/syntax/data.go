package syntax

import (
	"context"
	"fmt"
	"sort"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/jsengine"
	"github.com/devicelab-dev/action-runner/pkg/logger"
	"github.com/devicelab-dev/action-runner/pkg/vars"
)

type setArgs struct {
	Name       string `mapstructure:"set"`
	Value      any    `mapstructure:"value"`
	Persistent bool   `mapstructure:"persistent"`
	Global     bool   `mapstructure:"global"`
}

func set(s *action.Scope, args *setArgs) (string, error) {
	opts := vars.SaveOptions{Persistent: args.Persistent, Global: args.Global}
	if err := save(s, args.Name, args.Value, opts); err != nil {
		return "", err
	}
	return "set " + args.Name, nil
}

// save writes through the context-aware path when the store offers one.
func save(s *action.Scope, name string, value any, opts vars.SaveOptions) error {
	if s.Session.Vars == nil {
		return &core.InvalidArgumentsError{Op: "set", Reason: "session has no variable store"}
	}
	if cs, ok := s.Session.Vars.(interface {
		SaveContext(ctx context.Context, name string, value any, opts vars.SaveOptions) error
	}); ok {
		return cs.SaveContext(s.Ctx, name, value, opts)
	}
	return s.Session.Vars.Save(name, value, opts)
}

type logArgs struct {
	Message string `mapstructure:"log"`
	Level   string `mapstructure:"level"`
}

func logMessage(s *action.Scope, args *logArgs) (string, error) {
	level := logger.LevelInfo
	if args.Level != "" {
		l, err := logger.ParseLevel(args.Level)
		if err != nil {
			return "", err
		}
		level = l
	}
	switch level {
	case logger.LevelDebug:
		s.Log.Debug("%s", args.Message)
	case logger.LevelWarn:
		s.Log.Warn("%s", args.Message)
	case logger.LevelError:
		s.Log.Error("%s", args.Message)
	default:
		s.Log.Info("%s", args.Message)
	}
	return "", nil
}

type scriptArgs struct {
	Source string `mapstructure:"script"`
	Result string `mapstructure:"result"` // variable receiving the completion value
}

// script evaluates JavaScript with the session variables in scope. Keys
// assigned to output are saved as session variables afterwards.
func script(s *action.Scope, args *scriptArgs) (string, error) {
	opts := []jsengine.Option{jsengine.WithLogger(s.Log), jsengine.WithPlatform(s.Session.Platform)}
	if s.Session.Run != nil {
		opts = append(opts, jsengine.WithRunID(s.Session.Run.ID()))
	}
	engine := jsengine.New(opts...)
	if all, ok := s.Session.Vars.(interface{ All() map[string]any }); ok {
		engine.SetVariables(all.All())
	}

	v, err := engine.Eval(s.Ctx, args.Source)
	if err != nil {
		return "", core.ErrScriptFailed.WithCause(err)
	}

	out := engine.Output()
	names := make([]string, 0, len(out))
	for k := range out {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := save(s, k, out[k], vars.SaveOptions{}); err != nil {
			return "", err
		}
	}
	if args.Result != "" {
		if err := save(s, args.Result, v, vars.SaveOptions{}); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("script saved %d outputs", len(names)), nil
}
