// Package vars holds the session variable table shared by the items of a run.
//
// Reads check the session-local values first, then the persistent backend,
// then the global one. Saves always update the session and may also write
// through to the persistent or global backend.
package vars

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/devicelab-dev/action-runner/pkg/logger"
)

// ErrNoBackend is returned when a save asks for a backend the table lacks.
var ErrNoBackend = errors.New("vars: no backend configured")

// ErrEmptyName is returned when saving a variable without a name.
var ErrEmptyName = errors.New("vars: empty variable name")

// Store is the variable surface handlers and substitution work against.
type Store interface {
	Get(name string) (any, bool)
	Save(name string, value any, opts SaveOptions) error
}

// SaveOptions selects where a value is written besides the session table.
type SaveOptions struct {
	Persistent bool // survives the process (file backend)
	Global     bool // shared with other sessions (memory or redis backend)
}

// Backend stores variables outside a session.
type Backend interface {
	Get(ctx context.Context, name string) (any, bool, error)
	Set(ctx context.Context, name string, value any) error
	All(ctx context.Context) (map[string]any, error)
}

// Table is a session-scoped Store. It is safe for concurrent use.
type Table struct {
	mu         sync.RWMutex
	local      map[string]any
	persistent Backend
	global     Backend
}

// Option configures a Table.
type Option func(*Table)

// WithPersistent sets the backend for persistent saves.
func WithPersistent(b Backend) Option {
	return func(t *Table) {
		t.persistent = b
	}
}

// WithGlobal sets the backend for global saves.
func WithGlobal(b Backend) Option {
	return func(t *Table) {
		t.global = b
	}
}

// WithValues seeds the session table.
func WithValues(values map[string]any) Option {
	return func(t *Table) {
		for k, v := range values {
			t.local[k] = v
		}
	}
}

// NewTable creates an empty session table.
func NewTable(opts ...Option) *Table {
	t := &Table{local: make(map[string]any)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get returns the value of name. Backend errors are logged and treated as a
// miss so that a flaky backend degrades to "(null)" instead of aborting.
func (t *Table) Get(name string) (any, bool) {
	t.mu.RLock()
	v, ok := t.local[name]
	t.mu.RUnlock()
	if ok {
		return v, true
	}

	for _, b := range []Backend{t.persistent, t.global} {
		if b == nil {
			continue
		}
		v, ok, err := b.Get(context.Background(), name)
		if err != nil {
			logger.Warn("variable %q: backend read failed: %v", name, err)
			continue
		}
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Save sets name in the session and in the backends opts selects.
func (t *Table) Save(name string, value any, opts SaveOptions) error {
	return t.SaveContext(context.Background(), name, value, opts)
}

// SaveContext is Save with a context for backend writes.
func (t *Table) SaveContext(ctx context.Context, name string, value any, opts SaveOptions) error {
	if name == "" {
		return ErrEmptyName
	}
	if opts.Persistent && t.persistent == nil {
		return ErrNoBackend
	}
	if opts.Global && t.global == nil {
		return ErrNoBackend
	}

	t.mu.Lock()
	t.local[name] = value
	t.mu.Unlock()

	if opts.Persistent {
		if err := t.persistent.Set(ctx, name, value); err != nil {
			return err
		}
	}
	if opts.Global {
		if err := t.global.Set(ctx, name, value); err != nil {
			return err
		}
	}
	return nil
}

// All returns every visible variable. Session values shadow persistent ones,
// which shadow global ones.
func (t *Table) All() map[string]any {
	out := make(map[string]any)
	for _, b := range []Backend{t.global, t.persistent} {
		if b == nil {
			continue
		}
		values, err := b.All(context.Background())
		if err != nil {
			logger.Warn("variable backend listing failed: %v", err)
			continue
		}
		for k, v := range values {
			out[k] = v
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, v := range t.local {
		out[k] = v
	}
	return out
}

// Names returns the sorted names of all visible variables.
func (t *Table) Names() []string {
	all := t.All()
	names := make([]string, 0, len(all))
	for k := range all {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
