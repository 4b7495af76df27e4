// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that own sockets or
// goroutines. Shutdown lets work in progress finish within a bound, then
// releases everything; the component cannot be restarted.
type GracefulShutdown interface {
	Shutdown() error
}
