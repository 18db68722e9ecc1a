package vars

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File is a Backend persisted as a YAML mapping on disk. Every Set rewrites
// the file through a temporary file and rename.
type File struct {
	path   string
	mu     sync.RWMutex
	values map[string]any
}

// OpenFile loads path, or starts empty when it does not exist yet.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]any)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read variables file: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("parse variables file %s: %w", path, err)
	}
	if f.values == nil {
		f.values = make(map[string]any)
	}
	return f, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(_ context.Context, name string) (any, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[name]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.values[name]
	f.values[name] = value
	if err := f.flush(); err != nil {
		if had {
			f.values[name] = prev
		} else {
			delete(f.values, name)
		}
		return err
	}
	return nil
}

func (f *File) All(_ context.Context) (map[string]any, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]any, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

// flush must be called with f.mu held.
func (f *File) flush() error {
	data, err := yaml.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create variables dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".vars-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write variables: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write variables: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}
