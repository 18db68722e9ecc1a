package action

import (
	"sort"
	"strings"
	"sync"

	"github.com/devicelab-dev/action-runner/pkg/core"
)

// Keys the builder handles itself. They never take part in a key signature.
const (
	KeyComment   = "comment"
	KeyPlatforms = "platforms"
	KeyIgnore    = "ignore"
)

func isReservedKey(k string) bool {
	return k == KeyComment || k == KeyPlatforms || k == KeyIgnore
}

// Reply reports the outcome of a dispatched item. A run accepts exactly one
// reply per dispatch.
type Reply func(ok bool, message string)

// Handler executes one item. It must call reply exactly once, from any
// goroutine, and may return before doing so.
type Handler func(scope *Scope, node *Node, reply Reply)

// Syntax describes the nodes a handler accepts.
type Syntax struct {
	Name     string
	Path     string   // pattern restricting where the syntax applies; empty means anywhere
	Required []string // keys that must all be present
	Optional []string // keys that may be present
	Handler  Handler

	pattern *Pattern
}

// Accepts reports whether the syntax takes a node with the given signature
// keys at path.
func (s *Syntax) Accepts(path []string, keys []string) bool {
	if !s.pattern.Match(path) {
		return false
	}
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}
	for _, k := range s.Required {
		if !present[k] {
			return false
		}
	}
	for _, k := range keys {
		if !contains(s.Required, k) && !contains(s.Optional, k) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SignatureKeys returns the sorted non-reserved keys of an object node.
func SignatureKeys(n *Node) []string {
	var keys []string
	for _, k := range n.Keys() {
		if !isReservedKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Signature is the comma-joined SignatureKeys of n.
func Signature(n *Node) string {
	return strings.Join(SignatureKeys(n), ",")
}

// Registry holds the action paths and syntaxes of a session. It is safe for
// concurrent use; registration normally completes before any build.
type Registry struct {
	mu       sync.RWMutex
	paths    []*Pattern
	syntaxes []*Syntax
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddActionPath registers patterns under which object nodes are actions.
func (r *Registry) AddActionPath(patterns ...string) error {
	compiled := make([]*Pattern, 0, len(patterns))
	for _, raw := range patterns {
		p, err := CompilePattern(raw)
		if err != nil {
			return err
		}
		compiled = append(compiled, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, compiled...)
	return nil
}

// Register adds a syntax. Syntaxes are tried in registration order.
func (r *Registry) Register(s Syntax) error {
	if s.Name == "" {
		return &core.InvalidArgumentsError{Op: "action.Register", Reason: "syntax name is required"}
	}
	if s.Handler == nil {
		return &core.InvalidArgumentsError{Op: "action.Register", Reason: "syntax " + s.Name + " has no handler"}
	}
	if len(s.Required) == 0 {
		return &core.InvalidArgumentsError{Op: "action.Register", Reason: "syntax " + s.Name + " has no required keys"}
	}
	raw := s.Path
	if raw == "" {
		raw = "**"
	}
	p, err := CompilePattern(raw)
	if err != nil {
		return err
	}
	s.pattern = p

	r.mu.Lock()
	defer r.mu.Unlock()
	r.syntaxes = append(r.syntaxes, &s)
	return nil
}

// IsActionPath reports whether any action path matches.
func (r *Registry) IsActionPath(path []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.paths {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// Resolve returns the first syntax accepting node at path, or nil.
func (r *Registry) Resolve(path []string, node *Node) *Syntax {
	keys := SignatureKeys(node)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.syntaxes {
		if s.Accepts(path, keys) {
			return s
		}
	}
	return nil
}

// Syntax returns the syntax registered under name.
func (r *Registry) Syntax(name string) (*Syntax, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.syntaxes {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Names returns the registered syntax names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.syntaxes))
	for i, s := range r.syntaxes {
		out[i] = s.Name
	}
	return out
}
