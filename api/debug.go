// Package api
// Author: momentics
//
// Live introspection of a running connector.

package api

// Debug evaluates named probes on demand, e.g. suspended connections or
// idle processors.
type Debug interface {
	// DumpState evaluates every probe; a nil value means the probe could
	// not be read.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a probe.
	RegisterProbe(name string, fn func() any)
}
