package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/action-runner/pkg/action"
	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/logger"
	"github.com/devicelab-dev/action-runner/pkg/metrics"
)

// Config configures a Run.
type Config struct {
	Type      Type
	Name      string // asset name pushed on the chain
	Reporters []Reporter
	Metrics   *metrics.Collector

	parent *Run
}

// Result is the final record of a run.
type Result struct {
	RunID    string
	Chain    []string
	State    State
	Outcome  Outcome
	Err      error
	Items    []core.ItemResult
	Summary  core.Summary
	Dropped  int // items cleared from the queue without running
	Duration time.Duration
}

type command struct {
	action Action
	resp   chan error
}

type reply struct {
	ok      bool
	message string
}

// Run executes one queue. Create it with New, then Start or Execute it.
type Run struct {
	id      string
	cfg     Config
	queue   *action.Queue
	session *action.Session
	chain   []string
	log     *logger.Logger

	cmds chan command
	done chan struct{}

	mu       sync.Mutex
	state    State
	outcome  Outcome
	err      error
	started  bool
	results  []core.ItemResult
	dropped  int
	begin    time.Time
	duration time.Duration

	// owned by the loop goroutine
	last     *action.Item
	attempts map[*action.Item]int
	stepping bool
	pauseReq bool
	skipped  int
}

// New creates an idle run over queue. session is copied and bound to the
// run; its variable table, tree and driver stay shared with the caller.
func New(queue *action.Queue, session *action.Session, cfg Config) (*Run, error) {
	if queue == nil || session == nil {
		return nil, &core.InvalidArgumentsError{Op: "run.New", Reason: "queue and session are required"}
	}
	if cfg.Type < TypeAuto || cfg.Type > TypeStep {
		return nil, &core.InvalidArgumentsError{Op: "run.New", Reason: fmt.Sprintf("unknown run type %d", cfg.Type)}
	}

	r := &Run{
		id:       uuid.NewString(),
		cfg:      cfg,
		queue:    queue,
		cmds:     make(chan command),
		done:     make(chan struct{}),
		attempts: make(map[*action.Item]int),
		stepping: cfg.Type == TypeStep,
	}
	if cfg.parent != nil {
		r.chain = append(r.chain, cfg.parent.chain...)
	}
	if cfg.Name != "" {
		r.chain = append(r.chain, cfg.Name)
	}
	r.log = logger.With("run=" + r.id[:8])

	r.session = session.WithRun(r)
	if r.session.Subst == nil {
		subst, err := action.NewSubstituter("")
		if err != nil {
			return nil, err
		}
		r.session.Subst = subst
	}
	return r, nil
}

// ID returns the run's UUID.
func (r *Run) ID() string {
	return r.id
}

// Chain returns the asset names from the outermost run down to this one.
func (r *Run) Chain() []string {
	out := make([]string, len(r.chain))
	copy(out, r.chain)
	return out
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Outcome returns the verdict, OutcomePending until the run ends.
func (r *Run) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Remaining returns the number of queued items not yet dispatched.
func (r *Run) Remaining() int {
	return r.queue.Len()
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Start leaves idle and begins consuming the queue in the background.
// Cancelling ctx stops the run.
func (r *Run) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		st := r.state
		r.mu.Unlock()
		return &ActionError{State: st, Action: "start"}
	}
	r.started = true
	r.begin = time.Now()
	r.mu.Unlock()

	r.cfg.Metrics.RunStarted()
	r.log.Info("starting %s run %v with %d items", r.cfg.Type, r.chain, r.queue.Len())
	r.transition(StateRunning, r.queue.Peek(), "run started", nil)
	go r.loop(ctx)
	return nil
}

// Wait blocks until the run ends and returns its result.
func (r *Run) Wait() *Result {
	<-r.done
	return r.Result()
}

// Execute starts the run and waits for it.
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	return r.Wait(), nil
}

// Result returns a snapshot of the run's record.
func (r *Run) Result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]core.ItemResult, len(r.results))
	copy(items, r.results)
	return &Result{
		RunID:    r.id,
		Chain:    r.Chain(),
		State:    r.state,
		Outcome:  r.outcome,
		Err:      r.err,
		Items:    items,
		Summary:  core.Summarize(items),
		Dropped:  r.dropped,
		Duration: r.duration,
	}
}

// Send delivers an operator command and returns once the run accepted or
// rejected it. Commands the current state does not allow fail with an
// error matching ErrActionNotAllowed.
func (r *Run) Send(a Action) error {
	r.mu.Lock()
	st := r.state
	if st.Terminal() {
		r.mu.Unlock()
		return &ActionError{State: st, Action: a}
	}
	if !r.started {
		if a != ActionStop {
			r.mu.Unlock()
			return &ActionError{State: st, Action: a}
		}
		r.started = true
		r.begin = time.Now()
		r.mu.Unlock()
		r.stop("stopped before start", nil)
		return nil
	}
	r.mu.Unlock()

	cmd := command{action: a, resp: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
		return <-cmd.resp
	case <-r.done:
		return &ActionError{State: r.State(), Action: a}
	}
}

// Stop is Send(ActionStop).
func (r *Run) Stop() error {
	return r.Send(ActionStop)
}

// Call runs asset as a nested, non-interactive run sharing this run's
// session. It fails when asset is already on the chain.
func (r *Run) Call(ctx context.Context, asset *action.Asset) error {
	for _, name := range r.chain {
		if name == asset.Name {
			return &RecursionError{Chain: r.Chain(), Asset: asset.Name}
		}
	}
	if r.session.Registry == nil {
		return &core.InvalidArgumentsError{Op: "run.Call", Reason: "session has no syntax registry"}
	}

	q, err := action.BuildQueue(asset, r.session.Registry, r.session.BuildOptions())
	if err != nil {
		return err
	}
	child, err := New(q, r.session, Config{
		Type:      TypeAuto,
		Name:      asset.Name,
		Reporters: r.cfg.Reporters,
		Metrics:   r.cfg.Metrics,
		parent:    r,
	})
	if err != nil {
		return err
	}
	res, err := child.Execute(ctx)
	if err != nil {
		return err
	}
	if res.Outcome != OutcomePassed {
		return &NestedRunError{Asset: asset.Name, Outcome: res.Outcome, Err: res.Err}
	}
	return nil
}

func (r *Run) loop(ctx context.Context) {
	defer func() {
		r.cfg.Metrics.RunEnded(r.Outcome().String())
	}()

	for {
		if err := ctx.Err(); err != nil {
			r.stop("context cancelled", err)
			return
		}
		if r.queue.Len() == 0 {
			r.complete()
			return
		}

		if r.stepping || r.pauseReq {
			r.pauseReq = false
			r.transition(StatePaused, r.queue.Peek(), "paused", nil)
			a, ok := r.await(ctx)
			if !ok {
				r.stop("context cancelled", ctx.Err())
				return
			}
			switch a {
			case ActionStop:
				r.stop("stopped by operator", nil)
				return
			case ActionSkip:
				if it := r.queue.Pop(); it != nil {
					r.record(it, core.StatusSkipped, "skipped by operator", 0)
				}
				continue
			case ActionNext:
				r.stepping = true
			case ActionResume:
				r.stepping = false
			}
		}

		item := r.queue.Pop()
		r.last = item
		if !r.dispatch(ctx, item) {
			return
		}
	}
}

// dispatch runs one item and reports whether the loop should continue.
func (r *Run) dispatch(ctx context.Context, item *action.Item) bool {
	r.attempts[item]++
	r.transition(StateRunning, item, "dispatching "+item.String(), nil)

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan reply, 1)
	panics := make(chan any, 1)
	start := time.Now()

	node, err := r.session.Subst.Node(item.Node, r.session.Vars)
	if err != nil {
		replies <- reply{ok: false, message: err.Error()}
	} else {
		var once sync.Once
		rep := func(ok bool, message string) {
			fired := false
			once.Do(func() {
				fired = true
				replies <- reply{ok: ok, message: message}
			})
			if !fired {
				r.log.Warn("%s: duplicate reply ignored", item.RealPath)
			}
		}
		scope := &action.Scope{Ctx: dctx, Item: item, Session: r.session, Log: r.log.With(item.RealPath)}
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panics <- p
				}
			}()
			item.Syntax.Handler(scope, node, rep)
		}()
	}

	r.transition(StateWaiting, item, "waiting for "+item.RealPath, nil)
	for {
		select {
		case rp := <-replies:
			status := core.StatusPassed
			if !rp.ok {
				status = core.StatusFailed
			}
			r.record(item, status, rp.message, time.Since(start))
			if r.drainWaiting() {
				r.stop("stopped by operator", nil)
				return false
			}
			if rp.ok {
				return true
			}
			return r.fail(ctx, item, rp.message)

		case p := <-panics:
			err := fmt.Errorf("handler %s panicked at %s: %v", item.Syntax.Name, item.RealPath, p)
			r.record(item, core.StatusErrored, err.Error(), time.Since(start))
			r.log.Error("%v", err)
			r.end(StateStopped, OutcomeErrored, err.Error(), err)
			return false

		case cmd := <-r.cmds:
			if r.acceptWaiting(cmd) {
				cancel()
				r.stop("stopped by operator", nil)
				return false
			}

		case <-ctx.Done():
			r.stop("context cancelled", ctx.Err())
			return false
		}
	}
}

// acceptWaiting answers a command received in the waiting state and reports
// whether it was an accepted stop.
func (r *Run) acceptWaiting(cmd command) bool {
	if !IsAllowed(StateWaiting, cmd.action) {
		cmd.resp <- &ActionError{State: StateWaiting, Action: cmd.action}
		return false
	}
	cmd.resp <- nil
	if cmd.action == ActionStop {
		return true
	}
	r.pauseReq = true
	return false
}

// drainWaiting answers commands sent while the reply was pending, before the
// loop pops another item. It reports whether one of them was a stop.
func (r *Run) drainWaiting() bool {
	for {
		select {
		case cmd := <-r.cmds:
			if r.acceptWaiting(cmd) {
				return true
			}
		default:
			return false
		}
	}
}

// fail handles a failed reply and reports whether the loop should continue.
func (r *Run) fail(ctx context.Context, item *action.Item, message string) bool {
	if err := ctx.Err(); err != nil {
		r.stop("context cancelled", err)
		return false
	}
	stepErr := &StepError{RealPath: item.RealPath, Syntax: item.Syntax.Name, Message: message}
	if r.cfg.Type == TypeAuto {
		r.end(StateStopped, OutcomeFailed, stepErr.Error(), stepErr)
		return false
	}

	r.pauseReq = false
	r.transition(StateFailed, item, message, stepErr)
	a, ok := r.await(ctx)
	if !ok {
		r.stop("context cancelled", ctx.Err())
		return false
	}
	switch a {
	case ActionRepeatLast:
		r.queue.PushFront(r.last)
		return true
	case ActionSkip:
		r.skipped++
		r.record(item, core.StatusSkipped, "failure skipped by operator", 0)
		return true
	case ActionEnd:
		r.end(StateFinished, OutcomeFailed, "ended after failure", stepErr)
		return false
	default:
		r.stop("stopped by operator", stepErr)
		return false
	}
}

// await blocks for a command valid in the current state. ok is false when
// ctx is cancelled first.
func (r *Run) await(ctx context.Context) (Action, bool) {
	for {
		select {
		case cmd := <-r.cmds:
			st := r.State()
			if !IsAllowed(st, cmd.action) {
				cmd.resp <- &ActionError{State: st, Action: cmd.action}
				continue
			}
			cmd.resp <- nil
			return cmd.action, true
		case <-ctx.Done():
			return "", false
		}
	}
}

func (r *Run) complete() {
	if r.skipped > 0 {
		r.end(StateFinished, OutcomeFailed, fmt.Sprintf("finished with %d skipped failures", r.skipped), nil)
		return
	}
	r.end(StateFinished, OutcomePassed, "finished", nil)
}

func (r *Run) stop(message string, err error) {
	r.end(StateStopped, OutcomeStopped, message, err)
}

// end clears the queue, records the verdict and enters a terminal state.
func (r *Run) end(state State, outcome Outcome, message string, err error) {
	n := r.queue.Clear()

	r.mu.Lock()
	r.outcome = outcome
	r.err = err
	r.dropped += n
	r.duration = time.Since(r.begin)
	r.mu.Unlock()

	if n > 0 {
		message = fmt.Sprintf("%s (%d items dropped)", message, n)
	}
	r.log.Info("%s: %s", outcome, message)
	r.transition(state, nil, message, err)
	close(r.done)
}

func (r *Run) record(item *action.Item, status core.ItemStatus, message string, d time.Duration) {
	res := core.ItemResult{
		Path:      item.Path,
		RealPath:  item.RealPath,
		Syntax:    item.Syntax.Name,
		Status:    status,
		Attempt:   r.attempts[item],
		StartTime: time.Now().Add(-d),
		Duration:  d,
		Message:   message,
	}
	if status == core.StatusFailed || status == core.StatusErrored {
		res.Error = message
	}

	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.cfg.Metrics.Item(item.Syntax.Name, status.String(), d)
}

func (r *Run) transition(state State, item *action.Item, message string, err error) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	r.cfg.Metrics.Transition(state.String())
	r.log.Debug("-> %s: %s", state, message)

	ev := Event{
		RunID:   r.id,
		Chain:   r.Chain(),
		State:   state,
		Allowed: Allowed(state),
		Item:    item,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
	for _, rep := range r.cfg.Reporters {
		rep.Report(ev)
	}
}
