// File: endpoint/endpoint.go
// Package endpoint accepts AJP connections and drives them through a handler.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The Endpoint owns the listening socket, the worker executor, and the event
// poller. Accepted connections run a synchronous handler pass on a worker;
// suspended connections are parked on the poller until an event brings them
// back to a worker.

package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/reactor"
)

// Config holds the socket-level settings of an Endpoint.
type Config struct {
	Address     string // bind address, empty for all interfaces
	Port        int
	MaxThreads  int  // worker goroutines, <= 0 means one per CPU
	TCPNoDelay  bool
	SoLinger    int  // seconds, negative leaves the system default
	ReusePort   bool // SO_REUSEPORT on the listener where supported
	DeferAccept bool // TCP_DEFER_ACCEPT on the listener where supported
	// StopTimeout bounds the wait for suspended connections to process
	// StatusStop during Stop.
	StopTimeout time.Duration
}

// DefaultStopTimeout is used when Config.StopTimeout is not positive.
const DefaultStopTimeout = 5 * time.Second

// Endpoint is a TCP acceptor feeding an api.Handler.
type Endpoint struct {
	cfg     Config
	handler api.Handler
	log     *zap.Logger

	exec   *Executor
	poller *Poller
	conns  *xsync.MapOf[net.Conn, struct{}]

	mu       sync.Mutex
	resumed  *sync.Cond
	listener net.Listener
	cancel   context.CancelFunc
	running  bool
	paused   bool
	stopped  bool

	wg      sync.WaitGroup // acceptor
	pending sync.WaitGroup // poller events not yet delivered
}

// New creates an endpoint for handler. The poller is created immediately
// so it can be handed to the handler before Start.
func New(cfg Config, handler api.Handler, log *zap.Logger) *Endpoint {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Endpoint{
		cfg:     cfg,
		handler: handler,
		log:     log,
		conns:   xsync.NewMapOf[net.Conn, struct{}](),
	}
	e.resumed = sync.NewCond(&e.mu)

	r, err := reactor.New()
	if err != nil {
		log.Info("readiness reactor unavailable, suspended connections are woken by timeout and resume only",
			zap.Error(err))
		r = nil
	}
	e.poller = NewPoller(e.dispatch, r, log)
	return e
}

// Poller returns the event poller suspended connections are parked on.
func (e *Endpoint) Poller() *Poller { return e.poller }

// Init binds the listening socket.
func (e *Endpoint) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return api.ErrEndpointClosed
	}
	if e.listener != nil {
		return nil
	}
	lc := net.ListenConfig{Control: listenControl(e.cfg)}
	addr := net.JoinHostPort(e.cfg.Address, strconv.Itoa(e.cfg.Port))
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	e.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Init.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Start launches the workers and the acceptor. A stopped endpoint cannot
// be started again.
func (e *Endpoint) Start() error {
	if err := e.Init(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	e.running = true
	e.paused = false
	e.exec = NewExecutor(e.cfg.MaxThreads, e.log)
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.accept(ctx, e.listener, e.exec)
	e.log.Info("ajp endpoint started",
		zap.Stringer("addr", e.listener.Addr()),
		zap.Int("workers", e.exec.NumWorkers()))
	return nil
}

// Pause stops handing out newly accepted connections. The listener stays
// bound.
func (e *Endpoint) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && !e.paused {
		e.paused = true
		e.log.Info("ajp endpoint paused")
	}
}

// Resume undoes Pause.
func (e *Endpoint) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		e.resumed.Broadcast()
		e.log.Info("ajp endpoint resumed")
	}
}

// Paused reports whether the endpoint is paused.
func (e *Endpoint) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Stop closes the listener, delivers StatusStop to every suspended
// connection, closes the remaining connections, and waits for the workers.
// The endpoint cannot be used afterwards.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	running := e.running
	e.running = false
	e.stopped = true
	e.paused = false
	e.resumed.Broadcast()
	ln, exec, cancel := e.listener, e.exec, e.cancel
	e.listener = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if ln != nil {
		err = ln.Close()
	}
	e.wg.Wait()

	e.poller.Stop()
	timeout := e.cfg.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	if !waitTimeout(&e.pending, timeout) {
		e.log.Warn("suspended connections did not finish stopping", zap.Duration("timeout", timeout))
	}
	e.conns.Range(func(conn net.Conn, _ struct{}) bool {
		e.close(conn)
		return true
	})
	if exec != nil {
		exec.Close()
	}
	if running {
		e.log.Info("ajp endpoint stopped")
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// Connections returns the number of open connections.
func (e *Endpoint) Connections() int { return e.conns.Size() }

// Stats returns executor statistics.
func (e *Endpoint) Stats() map[string]int64 {
	e.mu.Lock()
	exec := e.exec
	e.mu.Unlock()
	stats := map[string]int64{
		"connections": int64(e.conns.Size()),
		"parked":      int64(e.poller.Len()),
	}
	if exec != nil {
		for k, v := range exec.Stats() {
			stats[k] = v
		}
	}
	return stats
}

func (e *Endpoint) accept(ctx context.Context, ln net.Listener, exec *Executor) {
	defer e.wg.Done()
	var backoff time.Duration
	for {
		if !e.awaitResume() {
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			e.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		if !e.awaitResume() {
			conn.Close()
			return
		}
		e.configure(conn)
		e.conns.Store(conn, struct{}{})
		if err := exec.SubmitContext(ctx, func() { e.serve(conn, e.handler.Process(conn)) }); err != nil {
			e.close(conn)
			return
		}
	}
}

// awaitResume blocks while paused. It reports false once the endpoint stops.
func (e *Endpoint) awaitResume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.paused && e.running {
		e.resumed.Wait()
	}
	return e.running
}

func (e *Endpoint) configure(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetNoDelay(e.cfg.TCPNoDelay); err != nil {
		e.log.Debug("set TCP_NODELAY", zap.Error(err))
	}
	if e.cfg.SoLinger >= 0 {
		if err := tcp.SetLinger(e.cfg.SoLinger); err != nil {
			e.log.Debug("set SO_LINGER", zap.Error(err))
		}
	}
}

// serve carries a connection from one handler outcome to the next on the
// current worker.
func (e *Endpoint) serve(conn net.Conn, state api.SocketState) {
	for state == api.StateOpen {
		state = e.handler.Process(conn)
	}
	if state == api.StateClosed {
		e.close(conn)
	}
}

// dispatch runs a poller event on a worker. It never blocks the caller,
// which may hold processor state while registering.
func (e *Endpoint) dispatch(conn net.Conn, status api.SocketStatus) {
	e.mu.Lock()
	exec := e.exec
	e.mu.Unlock()
	if exec == nil {
		e.close(conn)
		return
	}
	e.pending.Add(1)
	go func() {
		err := exec.Submit(func() {
			state := e.deliver(conn, status)
			e.serve(conn, state)
		})
		if err != nil {
			e.pending.Done()
			e.close(conn)
		}
	}()
}

func (e *Endpoint) deliver(conn net.Conn, status api.SocketStatus) api.SocketState {
	defer e.pending.Done()
	return e.handler.Event(conn, status)
}

func (e *Endpoint) close(conn net.Conn) {
	e.conns.Delete(conn)
	e.poller.Remove(conn)
	e.handler.Release(conn)
	if err := conn.Close(); err != nil && !api.IsSocketError(err) {
		e.log.Debug("close connection", zap.Error(err))
	}
}
