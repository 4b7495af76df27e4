// File: handler/handler.go
// Package handler binds connections to pooled AJP processors.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The ConnectionHandler is the api.Handler driven by the endpoint. It draws
// a processor from a bounded pool for every synchronous pass, parks the
// processor in a connection registry while the exchange is suspended, and
// routes poller events back to it.

package handler

import (
	"fmt"
	"net"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/control"
	"github.com/momentics/hioload-ajp/pool"
	"github.com/momentics/hioload-ajp/processor"
)

// DefaultCache is the default number of idle processors kept for reuse.
const DefaultCache = 200

// Registry maps suspended connections to their processors.
// *xsync.MapOf[net.Conn, *processor.Processor] satisfies it.
type Registry interface {
	Load(conn net.Conn) (*processor.Processor, bool)
	Store(conn net.Conn, p *processor.Processor)
	Delete(conn net.Conn)
	Size() int
}

// Pool holds idle processors.
type Pool interface {
	api.ObjectPool[*processor.Processor]
	SetCapacity(capacity int)
}

// ConnectionHandler implements api.Handler.
type ConnectionHandler struct {
	adapter api.Adapter
	group   *control.RequestGroup
	log     *zap.Logger

	mu     sync.RWMutex
	cfg    processor.Config
	poller api.EventPoller

	pool        Pool
	connections Registry
}

// Option customizes a ConnectionHandler.
type Option func(*ConnectionHandler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(h *ConnectionHandler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithRequestGroup sets the statistics group processors register with.
func WithRequestGroup(g *control.RequestGroup) Option {
	return func(h *ConnectionHandler) {
		if g != nil {
			h.group = g
		}
	}
}

// WithRegistry replaces the connection registry.
func WithRegistry(r Registry) Option {
	return func(h *ConnectionHandler) {
		if r != nil {
			h.connections = r
		}
	}
}

// WithCache sets the idle processor capacity; pool.Unbounded removes it.
func WithCache(n int) Option {
	return func(h *ConnectionHandler) {
		h.pool.SetCapacity(n)
	}
}

// New creates a handler serving adapter with processors bound to cfg.
func New(cfg processor.Config, adapter api.Adapter, opts ...Option) *ConnectionHandler {
	h := &ConnectionHandler{
		adapter:     adapter,
		cfg:         cfg.Normalized(),
		log:         zap.NewNop(),
		connections: xsync.NewMapOf[net.Conn, *processor.Processor](),
	}
	h.pool = pool.NewBounded[*processor.Processor](DefaultCache, h.discard)
	for _, opt := range opts {
		opt(h)
	}
	if h.group == nil {
		h.group = control.NewRequestGroup(nil, "")
	}
	return h
}

// SetPoller installs the poller that suspended connections are parked on.
// It must be called before the first connection is processed.
func (h *ConnectionHandler) SetPoller(poller api.EventPoller) {
	h.mu.Lock()
	h.poller = poller
	h.mu.Unlock()
}

// Config returns the configuration new processors are bound to.
func (h *ConnectionHandler) Config() processor.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// SetConfig rebinds future processors to cfg. Idle processors still carry
// the old values and are dropped.
func (h *ConnectionHandler) SetConfig(cfg processor.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg.Normalized()
	h.pool.Clear()
}

// SetCache changes the idle processor capacity.
func (h *ConnectionHandler) SetCache(n int) { h.pool.SetCapacity(n) }

// RequestGroup returns the statistics group.
func (h *ConnectionHandler) RequestGroup() *control.RequestGroup { return h.group }

// Idle returns the number of pooled processors.
func (h *ConnectionHandler) Idle() int { return h.pool.Len() }

// Suspended returns the number of connections in long mode.
func (h *ConnectionHandler) Suspended() int { return h.connections.Size() }

// Clear drops every idle processor.
func (h *ConnectionHandler) Clear() { h.pool.Clear() }

// Process runs a synchronous pass over conn.
func (h *ConnectionHandler) Process(conn net.Conn) api.SocketState {
	p := h.acquire()
	state, err := h.guard(func() (api.SocketState, error) { return p.Process(conn) })
	if err != nil {
		h.report(conn, "error reading ajp request", err)
		h.discard(p)
		return api.StateClosed
	}
	if state == api.StateLong {
		return h.park(conn, p)
	}
	h.release(p)
	return state
}

// Event delivers status to the processor suspended on conn.
func (h *ConnectionHandler) Event(conn net.Conn, status api.SocketStatus) api.SocketState {
	p, ok := h.connections.Load(conn)
	if !ok {
		h.log.Debug("event for unknown connection",
			zap.Stringer("remote", conn.RemoteAddr()),
			zap.Stringer("status", status))
		return api.StateClosed
	}
	if err := p.Transfer(api.OwnerSuspended, api.OwnerWorker); err != nil {
		h.log.Error("processor is not suspended",
			zap.Stringer("remote", conn.RemoteAddr()),
			zap.Stringer("status", status),
			zap.Error(err))
		return api.StateLong
	}
	h.group.Suspended(-1)

	p.StartProcessing()
	state, err := h.guard(func() (api.SocketState, error) { return p.Event(status) })
	if err != nil {
		h.connections.Delete(conn)
		h.report(conn, "error processing ajp event", err)
		h.discard(p)
		return api.StateClosed
	}
	if state == api.StateLong {
		return h.park(conn, p)
	}
	h.connections.Delete(conn)
	h.release(p)
	return state
}

// Release drops the processor suspended on conn. It is a no-op when conn
// is not suspended or a worker currently holds its processor.
func (h *ConnectionHandler) Release(conn net.Conn) {
	p, ok := h.connections.Load(conn)
	if !ok {
		return
	}
	if p.Transfer(api.OwnerSuspended, api.OwnerWorker) != nil {
		return
	}
	h.connections.Delete(conn)
	h.group.Suspended(-1)
	h.log.Debug("releasing suspended connection",
		zap.Stringer("remote", conn.RemoteAddr()))
	h.discard(p)
}

// park registers a processor left in long mode. The registry insert comes
// first so that an event raised by a concurrent wakeup finds the processor.
func (h *ConnectionHandler) park(conn net.Conn, p *processor.Processor) api.SocketState {
	h.connections.Store(conn, p)
	if err := p.Transfer(api.OwnerWorker, api.OwnerSuspended); err != nil {
		h.connections.Delete(conn)
		h.log.Error("cannot suspend processor", zap.Error(err))
		h.discard(p)
		return api.StateClosed
	}
	h.group.Suspended(1)

	poller := h.currentPoller()
	if poller == nil {
		h.unpark(conn, p)
		h.log.Error("no event poller for suspended connection",
			zap.Stringer("remote", conn.RemoteAddr()))
		return api.StateClosed
	}
	err := p.Park(func(resume bool) error {
		return poller.Add(conn, p.Timeout(), resume, true)
	})
	if err != nil {
		h.unpark(conn, p)
		h.report(conn, "error registering suspended connection", err)
		return api.StateClosed
	}
	return api.StateLong
}

func (h *ConnectionHandler) unpark(conn net.Conn, p *processor.Processor) {
	h.connections.Delete(conn)
	if p.Transfer(api.OwnerSuspended, api.OwnerWorker) == nil {
		h.group.Suspended(-1)
	}
	h.discard(p)
}

func (h *ConnectionHandler) currentPoller() api.EventPoller {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.poller
}

func (h *ConnectionHandler) acquire() *processor.Processor {
	for {
		p, ok := h.pool.Poll()
		if !ok {
			break
		}
		if p.Transfer(api.OwnerPool, api.OwnerWorker) == nil {
			return p
		}
	}
	h.mu.RLock()
	cfg, poller := h.cfg, h.poller
	h.mu.RUnlock()

	info := h.group.NewRequestInfo()
	h.group.Register(info)
	return processor.New(cfg, h.adapter, poller, info, h.log)
}

// release pools p unless it is bound to a configuration replaced while it
// was in use.
func (h *ConnectionHandler) release(p *processor.Processor) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if p.Config() != h.cfg {
		h.discard(p)
		return
	}
	if err := p.Transfer(api.OwnerWorker, api.OwnerPool); err != nil {
		h.log.Error("cannot release processor", zap.Error(err))
		h.discard(p)
		return
	}
	h.pool.Offer(p)
}

func (h *ConnectionHandler) discard(p *processor.Processor) {
	if p.Owner() == api.OwnerDiscarded {
		return
	}
	p.Discard()
	h.group.Unregister(p.RequestInfo())
	h.group.Discarded()
}

// guard runs a processor pass, turning a panic into an error.
func (h *ConnectionHandler) guard(pass func() (api.SocketState, error)) (state api.SocketState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.NewError(api.ErrCodeInternal, fmt.Sprintf("processor panic: %v", r))
			state = api.StateClosed
		}
	}()
	return pass()
}

// report logs socket failures at debug level and everything else as an
// error.
func (h *ConnectionHandler) report(conn net.Conn, msg string, err error) {
	fields := []zap.Field{
		zap.Stringer("remote", conn.RemoteAddr()),
		zap.Stringer("code", api.CodeOf(err)),
		zap.Error(err),
	}
	if api.IsSocketError(err) {
		h.log.Debug(msg, fields...)
		return
	}
	if api.CodeOf(err) == api.ErrCodeInternal {
		fields = append(fields, zap.Stack("stack"))
	}
	h.log.Error(msg, fields...)
}
