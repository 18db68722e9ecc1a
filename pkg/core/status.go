package core

// ItemStatus is the outcome of dispatching one queue item.
type ItemStatus int

const (
	StatusPending ItemStatus = iota // not yet dispatched
	StatusRunning                   // handler invoked, reply outstanding
	StatusPassed                    // replied success
	StatusFailed                    // replied failure
	StatusErrored                   // handler panicked or could not be resolved
	StatusSkipped                   // failure acknowledged with skip, or never reached
)

func (s ItemStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is final.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped:
		return true
	default:
		return false
	}
}

// ErrorCategory classifies runtime failures for reporting.
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota
	ErrCategoryAssertion                // selector matched nothing, wrong count, text mismatch
	ErrCategoryTimeout                  // wait expired
	ErrCategoryConnection               // driver missing or refused the interaction
	ErrCategoryScript                   // script evaluation error
	ErrCategoryConfig                   // invalid configuration
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryScript:
		return "script"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
