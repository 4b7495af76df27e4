// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/handler"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the logger shared by every component. The default
// discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRegistry registers the request-group collectors on reg instead of a
// private registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.registerer = reg
	}
}

// WithConnectionRegistry replaces the map of suspended connections.
func WithConnectionRegistry(r handler.Registry) Option {
	return func(s *Server) {
		s.connections = r
	}
}

// WithMaxThreads overrides Config.MaxThreads.
func WithMaxThreads(n int) Option {
	return func(s *Server) {
		s.cfg.MaxThreads = n
	}
}

// WithProcessorCache overrides Config.ProcessorCache.
func WithProcessorCache(n int) Option {
	return func(s *Server) {
		s.cfg.ProcessorCache = n
	}
}
