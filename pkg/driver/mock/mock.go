// Package mock provides an in-memory driver for testing without a device.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/action-runner/pkg/core"
	"github.com/devicelab-dev/action-runner/pkg/tree"
)

// Interaction is one recorded driver call.
type Interaction struct {
	Name     string
	Elements []string // element ids, nil for device interactions
	Options  map[string]any
	Device   bool
}

// Config configures mock driver behavior.
type Config struct {
	// Hierarchy is the raw tree returned by GetTree. Defaults to LoginScreen.
	Hierarchy any
	// Fail makes the named interactions fail with the given error.
	Fail map[string]error
	// Delay adds artificial latency to every call.
	Delay time.Duration
	// OnInteraction runs after each successful interaction, typically to
	// swap the hierarchy and simulate navigation.
	OnInteraction func(d *Driver, it Interaction)

	Platform string
	DeviceID string
}

// Driver is a mock implementation of core.Driver.
type Driver struct {
	cfg Config

	mu           sync.Mutex
	hierarchy    any
	interactions []Interaction
	captures     int
}

var _ core.Driver = (*Driver)(nil)

// New creates a mock driver.
func New(cfg Config) *Driver {
	if cfg.DeviceID == "" {
		cfg.DeviceID = "mock-device"
	}
	h := cfg.Hierarchy
	if h == nil {
		h = LoginScreen()
	}
	return &Driver{cfg: cfg, hierarchy: h}
}

// SetHierarchy replaces the raw tree returned by later GetTree calls.
func (d *Driver) SetHierarchy(raw any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hierarchy = raw
}

// SetHierarchyJSON decodes data and installs it as the hierarchy.
func (d *Driver) SetHierarchyJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("mock hierarchy: %w", err)
	}
	d.SetHierarchy(raw)
	return nil
}

// GetTree returns the configured hierarchy.
func (d *Driver) GetTree(ctx context.Context) (any, error) {
	if err := d.sleep(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captures++
	return d.hierarchy, nil
}

// PerformElementInteraction records the interaction.
func (d *Driver) PerformElementInteraction(ctx context.Context, name string, elements []*tree.Element, options map[string]any) error {
	ids := make([]string, len(elements))
	for i, e := range elements {
		ids[i] = e.ID
	}
	return d.perform(ctx, Interaction{Name: name, Elements: ids, Options: options})
}

// PerformDeviceInteraction records the interaction.
func (d *Driver) PerformDeviceInteraction(ctx context.Context, name string, options map[string]any) error {
	return d.perform(ctx, Interaction{Name: name, Options: options, Device: true})
}

func (d *Driver) perform(ctx context.Context, it Interaction) error {
	if err := d.sleep(ctx); err != nil {
		return err
	}
	if err, ok := d.cfg.Fail[it.Name]; ok {
		return core.ErrInteractionFailed.WithMessage("mock %s failed", it.Name).WithCause(err)
	}

	d.mu.Lock()
	d.interactions = append(d.interactions, it)
	d.mu.Unlock()

	if d.cfg.OnInteraction != nil {
		d.cfg.OnInteraction(d, it)
	}
	return nil
}

func (d *Driver) sleep(ctx context.Context) error {
	if d.cfg.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d.cfg.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interactions returns the recorded interactions in call order.
func (d *Driver) Interactions() []Interaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Interaction, len(d.interactions))
	copy(out, d.interactions)
	return out
}

// Captures returns how many times GetTree was called.
func (d *Driver) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// PlatformInfo returns mock platform info. Platform is empty unless
// configured.
func (d *Driver) PlatformInfo() *core.PlatformInfo {
	return &core.PlatformInfo{
		Platform:   d.cfg.Platform,
		DeviceID:   d.cfg.DeviceID,
		DeviceName: "Mock Device",
		OSVersion:  "1.0",
	}
}

// LoginScreen returns a small login form hierarchy.
func LoginScreen() any {
	return map[string]any{
		"type": "window",
		"rect": rect(0, 0, 390, 844),
		"children": []any{
			map[string]any{"type": "textfield", "name": "userName", "label": "User name", "value": "Username", "rect": rect(20, 100, 350, 44)},
			map[string]any{"type": "textfield", "name": "password", "label": "Password", "value": "", "rect": rect(20, 150, 350, 44)},
			map[string]any{"type": "button", "name": "login", "label": "Log In", "enabled": "true", "rect": rect(20, 200, 350, 50)},
		},
	}
}

func rect(x, y, w, h float64) map[string]any {
	return map[string]any{
		"origin": map[string]any{"x": x, "y": y},
		"size":   map[string]any{"width": w, "height": h},
	}
}
