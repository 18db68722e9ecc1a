package action

import (
	"context"

	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/logger"
	"github.com/devicelab-dev/action-runner/pkg/metrics"
	"github.com/devicelab-dev/action-runner/pkg/tree"
	"github.com/devicelab-dev/action-runner/pkg/vars"
)

// RunHandle is the view of the executing run that handlers get.
type RunHandle interface {
	ID() string
	Chain() []string
	// Call runs asset as a nested run and returns its failure, if any.
	Call(ctx context.Context, asset *Asset) error
}

// Session is the state shared by every item of one logical session. Each
// concurrent session owns its own Session value; nothing here is global.
type Session struct {
	Platform string
	Strict   bool // orphaned actions fail the build
	Vars     vars.Store
	Tree     *tree.Tree // last captured snapshot; handlers refresh it
	Driver   core.Driver
	Registry *Registry
	Loader   *Loader
	Subst    *Substituter
	Run      RunHandle
	Metrics  *metrics.Collector
}

// WithRun returns a shallow copy bound to run h.
func (s *Session) WithRun(h RunHandle) *Session {
	c := *s
	c.Run = h
	return &c
}

// BuildOptions returns the queue build options this session implies.
func (s *Session) BuildOptions() BuildOptions {
	return BuildOptions{Platform: s.Platform, Strict: s.Strict}
}

// Scope is what a handler receives alongside its node.
type Scope struct {
	Ctx     context.Context
	Item    *Item
	Session *Session
	Log     *logger.Logger
}
