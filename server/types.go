// File: server/types.go
// Package server is the AJP protocol facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/endpoint"
	"github.com/momentics/hioload-ajp/processor"
	"github.com/momentics/hioload-ajp/protocol"
)

// Version of the connector reported by Server.Info.
const Version = "1.0.0"

// DefaultPort is the registered AJP13 port.
const DefaultPort = 8009

// MaxPacketSize is the largest packet size a connector may be configured
// with; the length field of a message cannot describe more.
const MaxPacketSize = 65536

// PausePollInterval is how often Pause checks for requests still in
// service.
const PausePollInterval = 50 * time.Millisecond

// Config holds all connector configuration parameters.
type Config struct {
	Address string // bind address, empty for all interfaces
	Port    int

	PacketSize            int           // AJP message capacity, header included
	TrustedAuthentication bool          // ignore remote user forwarded by the web server
	RequiredSecret        string        // shared secret every request must carry
	KeepAliveTimeout      time.Duration // idle wait between requests, 0 = SoTimeout
	SoTimeout             time.Duration // socket read/write deadline

	ProcessorCache int // idle processors kept, -1 = unbounded
	MaxThreads     int // worker goroutines

	TCPNoDelay  bool
	SoLinger    int // seconds, -1 leaves the system default
	ReusePort   bool
	DeferAccept bool

	ShutdownTimeout time.Duration // bound on delivering STOP to suspended connections
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            DefaultPort,
		PacketSize:      protocol.MaxPacketSize,
		SoTimeout:       60 * time.Second,
		ProcessorCache:  200,
		MaxThreads:      200,
		TCPNoDelay:      true,
		SoLinger:        -1,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate rejects values the connector cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", api.ErrInvalidArgument, c.Port)
	case c.PacketSize < protocol.MinPacketSize || c.PacketSize > MaxPacketSize:
		return fmt.Errorf("%w: packet size %d", api.ErrInvalidArgument, c.PacketSize)
	case c.ProcessorCache < -1:
		return fmt.Errorf("%w: processor cache %d", api.ErrInvalidArgument, c.ProcessorCache)
	case c.KeepAliveTimeout < 0 || c.SoTimeout < 0 || c.ShutdownTimeout < 0:
		return fmt.Errorf("%w: negative timeout", api.ErrInvalidArgument)
	}
	return nil
}

func (c *Config) processorConfig() processor.Config {
	return processor.Config{
		PacketSize:            c.PacketSize,
		TrustedAuthentication: c.TrustedAuthentication,
		RequiredSecret:        c.RequiredSecret,
		KeepAliveTimeout:      c.KeepAliveTimeout,
		SoTimeout:             c.SoTimeout,
	}
}

func (c *Config) endpointConfig() endpoint.Config {
	return endpoint.Config{
		Address:     c.Address,
		Port:        c.Port,
		MaxThreads:  c.MaxThreads,
		TCPNoDelay:  c.TCPNoDelay,
		SoLinger:    c.SoLinger,
		ReusePort:   c.ReusePort,
		DeferAccept: c.DeferAccept,
		StopTimeout: c.ShutdownTimeout,
	}
}
