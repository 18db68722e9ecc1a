package vars

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. One instance shared by several tables
// acts as the global scope for those sessions.
type Memory struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]any)}
}

func (m *Memory) Get(_ context.Context, name string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

func (m *Memory) All(_ context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}
