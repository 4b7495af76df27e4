// File: api/handler.go
// Package api defines the Adapter and connection Handler contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"net"

	"github.com/momentics/hioload-ajp/exchange"
)

// Adapter receives decoded exchanges and performs application dispatch.
// The Request and Response are owned by the processor and recycled as soon
// as the call returns; implementations must not retain them.
type Adapter interface {
	// Service is called exactly once per logical request.
	Service(req *exchange.Request, resp *exchange.Response) error
	// Event is called once per resume of a suspended exchange. Returning
	// false marks the connection for closure.
	Event(req *exchange.Request, resp *exchange.Response, status SocketStatus) (bool, error)
}

// Handler is implemented by the connection handler and driven by an Endpoint.
type Handler interface {
	// Process runs a synchronous pass over a freshly accepted or reopened
	// connection.
	Process(conn net.Conn) SocketState
	// Event resumes the processor suspended on conn.
	Event(conn net.Conn, status SocketStatus) SocketState
	// Release forgets a connection the endpoint closes on its own. A
	// processor suspended on it is dropped without an Adapter event.
	Release(conn net.Conn)
}
