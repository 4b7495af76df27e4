// Package api
// Author: momentics
//
// Event poller contract used to park suspended connections until a
// readiness notification, a timeout or an explicit resume.

package api

import (
	"net"
	"time"
)

// EventPoller watches suspended connections on behalf of the Endpoint.
type EventPoller interface {
	// Add parks conn. A positive timeout delivers StatusTimeout when it
	// expires; resume delivers StatusOpenCallback as soon as possible;
	// read asks for StatusOpenRead when the peer sends data.
	Add(conn net.Conn, timeout time.Duration, resume, read bool) error

	// Remove forgets conn without delivering anything.
	Remove(conn net.Conn)

	// Len returns the number of parked connections.
	Len() int
}
