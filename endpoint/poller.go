// File: endpoint/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poller parks suspended connections and turns timeouts, explicit resumes,
// and socket readiness into handler events. Every registration delivers at
// most one event and is then forgotten; the handler registers the
// connection again if the exchange stays suspended.

package endpoint

import (
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
)

const (
	waitBatch     = 64
	waitTimeoutMs = 500
)

// DispatchFunc delivers an event for a parked connection.
type DispatchFunc func(conn net.Conn, status api.SocketStatus)

type registration struct {
	conn  net.Conn
	id    uintptr
	fd    uintptr
	hasFD bool
	timer *time.Timer
	gen   uint64
	armed bool
}

// Poller implements api.EventPoller.
type Poller struct {
	dispatch DispatchFunc
	reactor  api.Reactor
	log      *zap.Logger

	mu     sync.Mutex
	regs   map[net.Conn]*registration
	byID   map[uintptr]*registration
	nextID uintptr
	closed bool

	done chan struct{}
}

// NewPoller creates a poller delivering events through dispatch. reactor
// may be nil, in which case read and hangup readiness are not reported.
func NewPoller(dispatch DispatchFunc, reactor api.Reactor, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Poller{
		dispatch: dispatch,
		reactor:  reactor,
		log:      log,
		regs:     make(map[net.Conn]*registration),
		byID:     make(map[uintptr]*registration),
		done:     make(chan struct{}),
	}
	if reactor != nil {
		go p.loop()
	} else {
		close(p.done)
	}
	return p
}

// Add parks conn, merging with an existing registration: a resume is
// delivered immediately, a positive timeout replaces the previous one.
func (p *Poller) Add(conn net.Conn, timeout time.Duration, resume, read bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return api.ErrEndpointClosed
	}
	reg, ok := p.regs[conn]
	if !ok {
		p.nextID++
		reg = &registration{conn: conn, id: p.nextID}
		reg.fd, reg.hasFD = rawFD(conn)
		p.regs[conn] = reg
		p.byID[reg.id] = reg
	}

	if resume {
		p.forget(reg)
		p.mu.Unlock()
		p.dispatch(conn, api.StatusOpenCallback)
		return nil
	}

	if timeout > 0 {
		if reg.timer != nil {
			reg.timer.Stop()
		}
		reg.gen++
		gen := reg.gen
		reg.timer = time.AfterFunc(timeout, func() { p.expire(reg, gen) })
	}
	if read && !reg.armed && reg.hasFD && p.reactor != nil {
		if err := p.reactor.Register(reg.fd, reg.id); err != nil {
			p.log.Debug("cannot watch suspended connection",
				zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		} else {
			reg.armed = true
		}
	}
	p.mu.Unlock()
	return nil
}

// Remove forgets conn without delivering anything.
func (p *Poller) Remove(conn net.Conn) {
	p.mu.Lock()
	if reg, ok := p.regs[conn]; ok {
		p.forget(reg)
	}
	p.mu.Unlock()
}

// Len returns the number of parked connections.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regs)
}

// Stop refuses further registrations and delivers StatusStop to every
// parked connection.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	parked := make([]net.Conn, 0, len(p.regs))
	for conn, reg := range p.regs {
		p.forget(reg)
		parked = append(parked, conn)
	}
	p.mu.Unlock()

	for _, conn := range parked {
		p.dispatch(conn, api.StatusStop)
	}
	if p.reactor != nil {
		<-p.done
		if err := p.reactor.Close(); err != nil {
			p.log.Debug("reactor close", zap.Error(err))
		}
	}
}

// fire delivers status for reg unless the registration is gone.
func (p *Poller) fire(reg *registration, status api.SocketStatus) {
	p.mu.Lock()
	if p.regs[reg.conn] != reg {
		p.mu.Unlock()
		return
	}
	p.forget(reg)
	p.mu.Unlock()
	p.dispatch(reg.conn, status)
}

// expire delivers a timeout unless the timer was replaced meanwhile.
func (p *Poller) expire(reg *registration, gen uint64) {
	p.mu.Lock()
	if p.regs[reg.conn] != reg || reg.gen != gen {
		p.mu.Unlock()
		return
	}
	p.forget(reg)
	p.mu.Unlock()
	p.dispatch(reg.conn, api.StatusTimeout)
}

// forget drops reg. Callers hold p.mu.
func (p *Poller) forget(reg *registration) {
	delete(p.regs, reg.conn)
	delete(p.byID, reg.id)
	if reg.timer != nil {
		reg.timer.Stop()
	}
	if reg.armed {
		reg.armed = false
		if err := p.reactor.Unregister(reg.fd); err != nil {
			p.log.Debug("reactor unregister", zap.Error(err))
		}
	}
}

func (p *Poller) loop() {
	defer close(p.done)
	events := make([]api.Event, waitBatch)
	for {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		n, err := p.reactor.Wait(events, waitTimeoutMs)
		if err != nil {
			p.log.Error("reactor wait failed", zap.Error(err))
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			p.mu.Lock()
			reg, ok := p.byID[ev.UserData]
			p.mu.Unlock()
			if ok {
				p.fire(reg, readiness(ev.Flags))
			}
		}
	}
}

func readiness(flags uint32) api.SocketStatus {
	switch {
	case flags&api.EventError != 0:
		return api.StatusError
	case flags&api.EventHangup != 0:
		return api.StatusDisconnect
	default:
		return api.StatusOpenRead
	}
}

// rawFD extracts the descriptor of a socket-backed connection.
func rawFD(conn net.Conn) (uintptr, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	if err := rc.Control(func(s uintptr) { fd = s }); err != nil {
		return 0, false
	}
	return fd, true
}
