// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral reactor factory.

package reactor

import "github.com/momentics/hioload-ajp/api"

// New constructs the platform reactor. On platforms without one it returns
// api.ErrNotSupported and callers fall back to timer- and resume-driven
// events only.
func New() (api.Reactor, error) {
	return newReactor()
}
