package core

import (
	"context"

	"github.com/devicelab-dev/action-runner/pkg/tree"
)

// Driver is the boundary to the device. Handlers fetch raw hierarchies from it
// and forward interactions to it; the runner never talks to a device directly.
type Driver interface {
	// GetTree returns the current raw hierarchy: one node object, or an array
	// of node objects, in the shape tree.Build accepts.
	GetTree(ctx context.Context) (any, error)

	// PerformElementInteraction applies a named interaction (tap, type,
	// clear, ...) to the given elements.
	PerformElementInteraction(ctx context.Context, name string, elements []*tree.Element, options map[string]any) error

	// PerformDeviceInteraction applies an interaction that targets no
	// element (press key, home, rotate, ...).
	PerformDeviceInteraction(ctx context.Context, name string, options map[string]any) error
}

// PlatformInfoProvider is implemented by drivers that can describe the device.
type PlatformInfoProvider interface {
	PlatformInfo() *PlatformInfo
}

// PlatformInfo contains device and platform details.
type PlatformInfo struct {
	Platform   string `json:"platform"` // ios, android
	OSVersion  string `json:"osVersion,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
}
