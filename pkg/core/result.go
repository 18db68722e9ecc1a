package core

import "time"

// ItemResult records one dispatch of a queue item. A repeated item produces
// one result per attempt.
type ItemResult struct {
	Path     string        `json:"path"`     // wildcarded action path
	RealPath string        `json:"realPath"` // concrete document path
	Syntax   string        `json:"syntax"`
	Status   ItemStatus    `json:"status"`
	Category ErrorCategory `json:"errorCategory,omitempty"`
	Attempt  int           `json:"attempt"` // 1-based

	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Summary aggregates item results of a run.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
}

// Summarize counts finished results by status. Items that failed and were
// later skipped count once under each status.
func Summarize(results []ItemResult) Summary {
	var s Summary
	for _, r := range results {
		if !r.Status.IsTerminal() {
			continue
		}
		s.Total++
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusErrored:
			s.Errored++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// Success reports whether every recorded dispatch passed.
func (s Summary) Success() bool {
	return s.Failed == 0 && s.Errored == 0
}
