package run

import (
	"time"

	"github.com/devicelab-dev/action-runner/pkg/action"
)

// Event is emitted on every state transition.
type Event struct {
	RunID   string
	Chain   []string
	State   State
	Allowed []Action     // operator actions valid in State
	Item    *action.Item // item being dispatched, or next to run when paused
	Message string
	Err     error
	Time    time.Time
}

// Reporter receives events synchronously on the run's goroutine. It must not
// block and must not call Send from the same goroutine.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) {
	f(e)
}
