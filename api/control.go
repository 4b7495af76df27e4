// File: api/control.go
// Package api defines the connector control plane.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control exposes the runtime attributes and statistics of a connector.
// Attribute changes are validated before they are stored and take effect
// for processors created afterwards.
type Control interface {
	// SetAttribute stores one named attribute.
	SetAttribute(name string, value any) error
	// GetAttribute returns a stored attribute.
	GetAttribute(name string) (any, bool)

	// GetConfig snapshots every attribute; SetConfig applies several at
	// once, all or nothing.
	GetConfig() map[string]any
	SetConfig(cfg map[string]any) error

	// Stats returns request-group totals and endpoint counters.
	Stats() map[string]any

	// OnReload runs fn after every accepted attribute change.
	OnReload(fn func())
	RegisterDebugProbe(name string, fn func() any)
}
