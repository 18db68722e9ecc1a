// Package run executes action queues under an operator-controllable state
// machine.
//
// A Run consumes its queue on a single goroutine. Exactly one item is in
// flight at a time; the next item is taken only after the current handler
// replies. Operator commands arrive through Send and are validated against
// the state the run is in when it reads them.
package run

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devicelab-dev/action-runner/pkg/core"
)

// State is a run lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateWaiting
	StatePaused
	StateFailed
	StateStopped
	StateFinished
)

var stateNames = [...]string{"idle", "running", "waiting", "paused", "failed", "stopped", "finished"}

func (s State) String() string {
	if s < StateIdle || s > StateFinished {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFinished
}

// Action is an operator command.
type Action string

const (
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
	ActionNext       Action = "next"
	ActionSkip       Action = "skip"
	ActionStop       Action = "stop"
	ActionRepeatLast Action = "repeat-last"
	ActionEnd        Action = "end"
)

var allowed = map[State][]Action{
	StateIdle:    {ActionStop},
	StateRunning: {ActionPause, ActionStop},
	StateWaiting: {ActionPause, ActionStop},
	StatePaused:  {ActionResume, ActionNext, ActionSkip, ActionStop},
	StateFailed:  {ActionRepeatLast, ActionSkip, ActionEnd, ActionStop},
}

// Allowed returns the operator actions valid in s.
func Allowed(s State) []Action {
	list := allowed[s]
	out := make([]Action, len(list))
	copy(out, list)
	return out
}

// IsAllowed reports whether a is valid in s.
func IsAllowed(s State, a Action) bool {
	for _, v := range allowed[s] {
		if v == a {
			return true
		}
	}
	return false
}

// ParseAction parses an operator command. "last" is accepted for repeat-last.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionPause, ActionResume, ActionNext, ActionSkip, ActionStop, ActionRepeatLast, ActionEnd:
		return a, nil
	case "last":
		return ActionRepeatLast, nil
	}
	return "", &core.InvalidArgumentsError{Op: "run.ParseAction", Reason: fmt.Sprintf("unknown operator action %q", s)}
}

// Type selects how a run reacts to failures and whether it steps.
type Type int

const (
	TypeAuto        Type = iota // failures stop the run
	TypeInteractive             // failures wait for the operator
	TypeStep                    // pause before every item
)

func (t Type) String() string {
	switch t {
	case TypeAuto:
		return "auto"
	case TypeInteractive:
		return "interactive"
	case TypeStep:
		return "step"
	}
	return "unknown"
}

// ParseType parses auto, interactive or step. The empty string is auto.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return TypeAuto, nil
	case "interactive":
		return TypeInteractive, nil
	case "step":
		return TypeStep, nil
	}
	return TypeAuto, &core.InvalidArgumentsError{Op: "run.ParseType", Reason: fmt.Sprintf("unknown run type %q", s)}
}

// Outcome is the verdict of a run, kept apart from its final state.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomePassed
	OutcomeFailed
	OutcomeStopped
	OutcomeErrored
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeStopped:
		return "stopped"
	case OutcomeErrored:
		return "errored"
	}
	return "unknown"
}

// ErrActionNotAllowed matches every rejected operator command.
var ErrActionNotAllowed = errors.New("operator action not allowed")

// ActionError is a rejected operator command.
type ActionError struct {
	State  State
	Action Action
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Action, e.State)
}

func (e *ActionError) Is(target error) bool {
	return target == ErrActionNotAllowed
}

// StepError is the failure of one item as reported by its handler.
type StepError struct {
	RealPath string
	Syntax   string
	Message  string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (%s) failed: %s", e.RealPath, e.Syntax, e.Message)
}

// RecursionError reports a nested call to an asset already executing.
type RecursionError struct {
	Chain []string
	Asset string
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("recursive call to %s (chain %s)", e.Asset, strings.Join(e.Chain, " > "))
}

// NestedRunError reports a nested run that did not pass.
type NestedRunError struct {
	Asset   string
	Outcome Outcome
	Err     error
}

func (e *NestedRunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nested run %s %s: %v", e.Asset, e.Outcome, e.Err)
	}
	return fmt.Sprintf("nested run %s %s", e.Asset, e.Outcome)
}

func (e *NestedRunError) Unwrap() error {
	return e.Err
}
