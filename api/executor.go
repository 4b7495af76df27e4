// Package api
// Author: momentics
//
// Worker pool contract connection passes run on.

package api

// Executor runs connection passes: freshly accepted sockets and events for
// suspended ones.
type Executor interface {
	// Submit hands task to a worker. It fails once the executor is closed.
	Submit(task func()) error

	NumWorkers() int

	// Close refuses new tasks and waits for running ones.
	Close()
}
