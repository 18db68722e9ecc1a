package action

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/devicelab-dev/action-runner/pkg/logger"
)

// Item is one dispatchable action.
type Item struct {
	Path     string // wildcarded path, e.g. actions.*.then.*
	RealPath string // concrete path, e.g. actions.2.then.0
	Asset    string
	Line     int
	Node     *Node // deep clone with reserved keys stripped; substitution happens at dispatch
	Syntax   *Syntax
}

func (it *Item) String() string {
	return fmt.Sprintf("%s (%s)", it.RealPath, it.Syntax.Name)
}

// Queue is an ordered list of items. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []*Item
}

// NewQueue creates a queue holding items.
func NewQueue(items ...*Item) *Queue {
	return &Queue{items: items}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Push appends an item.
func (q *Queue) Push(it *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, it)
}

// PushFront puts an item at the head of the queue.
func (q *Queue) PushFront(it *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*Item{it}, q.items...)
}

// Pop removes and returns the head, or nil when empty.
func (q *Queue) Pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return it
}

// Peek returns the head without removing it, or nil when empty.
func (q *Queue) Peek() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Clear drops every item and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Items returns a snapshot of the pending items.
func (q *Queue) Items() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Item, len(q.items))
	copy(out, q.items)
	return out
}

// OrphanedActionError reports an action node no syntax accepts.
type OrphanedActionError struct {
	Asset     string
	RealPath  string
	Signature string
	Line      int
}

func (e *OrphanedActionError) Error() string {
	loc := e.Asset
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Asset, e.Line)
	}
	return fmt.Sprintf("%s: orphaned action at %s: no syntax accepts keys [%s]", loc, e.RealPath, e.Signature)
}

// BuildOptions controls queue building.
type BuildOptions struct {
	Platform string // target platform for platforms/ignore filters; empty disables platforms
	Strict   bool   // orphans fail the build instead of being skipped
}

// BuildQueue walks the asset pre-order and enqueues every action node.
func BuildQueue(asset *Asset, reg *Registry, opts BuildOptions) (*Queue, error) {
	b := &builder{asset: asset, reg: reg, opts: opts, queue: NewQueue(), log: logger.With("build=" + asset.Name)}
	if err := b.walk(asset.Root, nil, nil); err != nil {
		return nil, err
	}
	b.log.Debug("built %d items", b.queue.Len())
	return b.queue, nil
}

type builder struct {
	asset *Asset
	reg   *Registry
	opts  BuildOptions
	queue *Queue
	log   *logger.Logger
}

func (b *builder) walk(n *Node, path, real []string) error {
	switch n.Kind {
	case KindObject:
		if b.reg.IsActionPath(path) {
			descend, err := b.visit(n, path, real)
			if err != nil || !descend {
				return err
			}
		}
		for _, k := range n.keys {
			if isReservedKey(k) {
				continue
			}
			if err := b.walk(n.fields[k], extend(path, k), extend(real, k)); err != nil {
				return err
			}
		}
	case KindArray:
		for i, it := range n.Items {
			if err := b.walk(it, extend(path, "*"), extend(real, strconv.Itoa(i))); err != nil {
				return err
			}
		}
	}
	return nil
}

// visit handles one action node and reports whether to descend into it.
func (b *builder) visit(n *Node, path, real []string) (bool, error) {
	realPath := JoinPath(real)
	if c, ok := n.Get(KeyComment).Text(); ok {
		b.log.Info("%s: %s", realPath, c)
	}
	if !admits(n, b.opts.Platform) {
		b.log.Debug("%s: filtered for platform %q", realPath, b.opts.Platform)
		return false, nil
	}

	syn := b.reg.Resolve(path, n)
	if syn == nil {
		orphan := &OrphanedActionError{Asset: b.asset.Source, RealPath: realPath, Signature: Signature(n), Line: n.Line}
		if b.opts.Strict {
			return false, orphan
		}
		b.log.Debug("skipping %v", orphan)
		return false, nil
	}

	node := n.Clone()
	node.Delete(KeyComment)
	node.Delete(KeyPlatforms)
	node.Delete(KeyIgnore)
	b.queue.Push(&Item{
		Path:     JoinPath(path),
		RealPath: realPath,
		Asset:    b.asset.Name,
		Line:     n.Line,
		Node:     node,
		Syntax:   syn,
	})
	return true, nil
}

func extend(segs []string, s string) []string {
	out := make([]string, len(segs)+1)
	copy(out, segs)
	out[len(segs)] = s
	return out
}

// admits applies the platforms and ignore filters of n.
func admits(n *Node, platform string) bool {
	if ig := n.Get(KeyIgnore); ig != nil {
		if v, ok := ig.Scalar.(bool); ok {
			if v {
				return false
			}
		} else if contains(ig.Strings(), platform) && platform != "" {
			return false
		}
	}

	entries := n.Get(KeyPlatforms).Strings()
	if platform == "" || len(entries) == 0 {
		return true
	}
	included := false
	hasInclude := false
	for _, e := range entries {
		if name, neg := cutBang(e); neg {
			if name == platform {
				return false
			}
			continue
		}
		hasInclude = true
		if e == platform {
			included = true
		}
	}
	return !hasInclude || included
}

func cutBang(s string) (string, bool) {
	if len(s) > 0 && s[0] == '!' {
		return s[1:], true
	}
	return s, false
}
