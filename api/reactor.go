// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for event-driven IO Reactors
// used to watch parked connections across poll-mode backends (epoll, ...).

package api

// Readiness flags reported by a Reactor.
const (
	EventRead   uint32 = 1 << iota // data available
	EventHangup                    // peer closed its side
	EventError                     // socket error
)

// Event encapsulates the result of an OS-level readiness notification
type Event struct {
	Fd       uintptr // file descriptor or system handle
	UserData uintptr // opaque application value
	Flags    uint32  // combination of EventRead/EventHangup/EventError
}

// Reactor defines the common interface for an event-loop that dispatches I/O events
// regardless of specific polling mechanism used.
type Reactor interface {
	// Register associates a socket handle with the event loop for a single
	// notification.
	Register(fd uintptr, userData uintptr) error

	// Unregister removes a socket handle.
	Unregister(fd uintptr) error

	// Wait blocks up to timeoutMs and fills events when IO is ready.
	Wait(events []Event, timeoutMs int) (int, error)

	// Close must cleanup the internal poller backend
	Close() error
}
