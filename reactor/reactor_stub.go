//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-ajp/api"
)

func newReactor() (api.Reactor, error) {
	return nil, fmt.Errorf("reactor on %s: %w", runtime.GOOS, api.ErrNotSupported)
}
