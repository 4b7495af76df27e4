// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import "time"

// SocketState is the outcome of one processing pass over a connection.
type SocketState int

const (
	// StateClosed: the connection must be closed and the processor recycled.
	StateClosed SocketState = iota
	// StateOpen: the exchange completed synchronously and the connection
	// stays open for another keep-alive read.
	StateOpen
	// StateLong: the Adapter suspended the exchange; the processor stays
	// bound to the connection until the next Event.
	StateLong
)

func (s SocketState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateLong:
		return "long"
	default:
		return "unknown"
	}
}

// SocketStatus is delivered to a suspended processor by the event poller.
type SocketStatus int

const (
	StatusOpenRead SocketStatus = iota
	// StatusOpenCallback is an explicit wake requested through EVENT_WAKEUP.
	StatusOpenCallback
	StatusStop
	StatusTimeout
	StatusDisconnect
	StatusError
)

func (s SocketStatus) String() string {
	switch s {
	case StatusOpenRead:
		return "open_read"
	case StatusOpenCallback:
		return "open_callback"
	case StatusStop:
		return "stop"
	case StatusTimeout:
		return "timeout"
	case StatusDisconnect:
		return "disconnect"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Stage is the request processing stage of a processor.
type Stage int32

const (
	StageNew Stage = iota
	StageParse
	StagePrepare
	StageService
	StageEndInput
	StageEndOutput
	StageKeepAlive
	StageEnded
)

func (s Stage) String() string {
	switch s {
	case StageNew:
		return "new"
	case StageParse:
		return "parse"
	case StagePrepare:
		return "prepare"
	case StageService:
		return "service"
	case StageEndInput:
		return "end_input"
	case StageEndOutput:
		return "end_output"
	case StageKeepAlive:
		return "keepalive"
	case StageEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Owner tags who currently holds a processor.
type Owner int32

const (
	OwnerPool Owner = iota
	OwnerWorker
	OwnerSuspended
	OwnerDiscarded
)

func (o Owner) String() string {
	switch o {
	case OwnerPool:
		return "pool"
	case OwnerWorker:
		return "worker"
	case OwnerSuspended:
		return "suspended"
	case OwnerDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// NoTimeout disables the suspend timeout of a registration.
const NoTimeout time.Duration = -1

// ServiceInfo exposes descriptive build- and runtime info for external tools.
type ServiceInfo struct {
	Name      string
	Version   string
	StartedAt time.Time
}
