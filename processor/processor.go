// File: processor/processor.go
// Package processor implements the per-connection AJP13 protocol engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Processor owns one Request/Response pair and three preallocated
// messages. It serves one connection at a time: synchronously through
// Process, or across readiness events through Event while the exchange is
// suspended.

package processor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/control"
	"github.com/momentics/hioload-ajp/exchange"
	"github.com/momentics/hioload-ajp/protocol"
)

// Config is the protocol-wide configuration a processor is bound to.
type Config struct {
	// PacketSize is the message capacity, header included.
	PacketSize int
	// TrustedAuthentication makes the connector authenticate on its own:
	// remote user and auth type forwarded by the web server are ignored.
	TrustedAuthentication bool
	// RequiredSecret, when set, must accompany every forwarded request.
	RequiredSecret string
	// KeepAliveTimeout bounds the idle wait for the next request; zero or
	// negative falls back to SoTimeout.
	KeepAliveTimeout time.Duration
	// SoTimeout is the read/write deadline of every other socket operation,
	// zero meaning none.
	SoTimeout time.Duration
}

// Normalized returns c with an unusable packet size replaced by the
// default.
func (c Config) Normalized() Config {
	if c.PacketSize < protocol.MinPacketSize {
		c.PacketSize = protocol.MaxPacketSize
	}
	return c
}

// Static control messages shared by every processor.
var (
	pongMessage     = mustEncode(byte(protocol.TypeCPongReply))
	endMessage      = mustEncode(byte(protocol.TypeEndResponse), 1)
	endCloseMessage = mustEncode(byte(protocol.TypeEndResponse), 0)
	flushMessage    = mustEncode(byte(protocol.TypeSendBodyChunk), 0, 0, 0)
)

// dumpLimit bounds the packet bytes included in debug logs.
const dumpLimit = 256

func mustEncode(payload ...byte) []byte {
	b, err := protocol.Encode(protocol.MinPacketSize, func(m *protocol.Message) {
		for _, c := range payload {
			m.AppendByte(c)
		}
	})
	if err != nil {
		panic(err)
	}
	return b
}

// Processor decodes forwarded requests, drives the Adapter and encodes the
// response of a single connection.
type Processor struct {
	cfg     Config
	adapter api.Adapter
	poller  api.EventPoller
	info    *control.RequestInfo
	log     *zap.Logger

	req  *exchange.Request
	resp *exchange.Response

	requestHeader  *protocol.Message
	responseHeader *protocol.Message
	body           *protocol.Message
	getBodyMessage []byte

	conn   net.Conn
	connID string

	bodyBytes    []byte
	certificates []byte

	first       bool
	empty       bool
	endOfStream bool
	replay      bool
	finished    bool
	error       bool
	event       bool
	fatal       error
	timeout     atomic.Int64

	// mu guards the wakeup handshake with the connection handler.
	mu                 sync.Mutex
	eventProcessing    bool
	resumeNotification bool

	owner atomic.Int32
}

// New creates a processor bound to cfg. The processor starts owned by the
// calling worker.
func New(cfg Config, adapter api.Adapter, poller api.EventPoller, info *control.RequestInfo, log *zap.Logger) *Processor {
	cfg = cfg.Normalized()
	if log == nil {
		log = zap.NewNop()
	}
	if info == nil {
		info = control.NewRequestGroup(nil, "").NewRequestInfo()
	}
	p := &Processor{
		cfg:            cfg,
		adapter:        adapter,
		poller:         poller,
		info:           info,
		log:            log,
		req:            exchange.NewRequest(),
		resp:           exchange.NewResponse(),
		requestHeader:  protocol.NewMessage(cfg.PacketSize),
		responseHeader: protocol.NewMessage(cfg.PacketSize),
		body:           protocol.NewMessage(cfg.PacketSize),
	}
	p.getBodyMessage = encodeGetBody(cfg.PacketSize)
	p.req.Bind(p, p)
	p.resp.Bind(p, p)
	p.owner.Store(int32(api.OwnerWorker))
	p.Recycle()
	return p
}

func encodeGetBody(packetSize int) []byte {
	b, err := protocol.Encode(protocol.MinPacketSize, func(m *protocol.Message) {
		m.AppendByte(byte(protocol.TypeGetBodyChunk))
		m.AppendInt(uint16(packetSize - protocol.ReadHeadLength))
	})
	if err != nil {
		panic(err)
	}
	return b
}

// Config returns the configuration the processor was created with.
func (p *Processor) Config() Config { return p.cfg }

// Request returns the request of the current exchange.
func (p *Processor) Request() *exchange.Request { return p.req }

// Response returns the response of the current exchange.
func (p *Processor) Response() *exchange.Response { return p.resp }

// RequestInfo returns the statistics slot of the processor.
func (p *Processor) RequestInfo() *control.RequestInfo { return p.info }

// Conn returns the connection being served, if any.
func (p *Processor) Conn() net.Conn { return p.conn }

// Timeout returns the suspend timeout requested by the Adapter.
func (p *Processor) Timeout() time.Duration { return time.Duration(p.timeout.Load()) }

// Owner returns the current owner tag.
func (p *Processor) Owner() api.Owner { return api.Owner(p.owner.Load()) }

// Transfer moves ownership from one holder to another. It fails with
// api.ErrIllegalOwner when the processor is not held by from.
func (p *Processor) Transfer(from, to api.Owner) error {
	if !p.owner.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s -> %s, held by %s", api.ErrIllegalOwner, from, to, p.Owner())
	}
	return nil
}

// Discard marks the processor as dropped. It is never handed out again.
func (p *Processor) Discard() {
	p.owner.Store(int32(api.OwnerDiscarded))
}

// StartProcessing marks an event pass in progress, suppressing poller
// registration from concurrent wakeups.
func (p *Processor) StartProcessing() {
	p.mu.Lock()
	p.eventProcessing = true
	p.mu.Unlock()
}

// EndProcessing ends the pass started by StartProcessing and reports
// whether a wakeup was requested meanwhile.
func (p *Processor) EndProcessing() (resume bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventProcessing = false
	return p.resumeNotification
}

// Park ends the pass started by StartProcessing and hands the pending
// wakeup flag to register, which parks the connection with the poller. A
// wakeup requested concurrently is registered after register returns.
func (p *Processor) Park(register func(resume bool) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventProcessing = false
	return register(p.resumeNotification)
}

// ResumeRequested reports a pending wakeup.
func (p *Processor) ResumeRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeNotification
}

func (p *Processor) wakeup() error {
	p.mu.Lock()
	schedule := !p.eventProcessing && !p.resumeNotification
	p.resumeNotification = true
	conn := p.conn
	p.mu.Unlock()
	if !schedule || p.poller == nil || conn == nil {
		return nil
	}
	return p.poller.Add(conn, p.Timeout(), true, true)
}

// Process serves conn until the connection ends or the Adapter suspends the
// exchange. A non-nil error reports a framing or socket failure; the
// processor must not be reused after it.
func (p *Processor) Process(conn net.Conn) (api.SocketState, error) {
	p.bind(conn)
	p.info.SetStage(api.StageParse)
	p.error = false
	p.fatal = nil

	for !p.error && !p.event {
		p.setReadDeadline(p.idleTimeout())
		if err := protocol.ReadMessage(conn, p.requestHeader); err != nil {
			if !idleClose(err) {
				p.fail(err)
			}
			break
		}
		p.setReadDeadline(p.cfg.SoTimeout)

		typ, err := p.requestHeader.GetByte()
		if err != nil {
			p.fail(err)
			break
		}
		switch protocol.MessageType(typ) {
		case protocol.TypeCPingRequest:
			p.write(pongMessage)
			continue
		case protocol.TypeForwardRequest:
		default:
			p.log.Debug("unexpected ajp message",
				zap.String("conn", p.connID),
				zap.Stringer("type", protocol.MessageType(typ)),
				zap.Uint8("code", typ))
			p.error = true
			continue
		}

		now := time.Now()
		p.req.StartTime = now
		p.info.Begin(now)

		p.info.SetStage(api.StagePrepare)
		if err := p.prepareRequest(); err != nil {
			p.log.Debug("error preparing ajp request",
				zap.String("conn", p.connID),
				zap.Error(err),
				zap.String("packet", p.requestHeader.Dump(dumpLimit)))
			p.resp.Status = 400
			p.error = true
		}

		if !p.error {
			p.info.SetStage(api.StageService)
			p.service()
		}

		if !p.event && !p.finished {
			p.finish()
		}

		status := p.resp.Status
		if p.error && status < 400 {
			status = 500
		}
		p.info.End(p.req.Method, p.req.RequestURI, status, p.req.BytesRead(), p.resp.BytesWritten())

		if !p.event {
			p.Recycle()
		}
		p.info.SetStage(api.StageKeepAlive)
	}

	p.info.SetStage(api.StageEnded)
	if p.event && !p.error {
		return api.StateLong, nil
	}
	err := p.fatal
	p.Recycle()
	p.unbind()
	return api.StateClosed, err
}

// Event resumes a suspended exchange with status.
func (p *Processor) Event(status api.SocketStatus) (api.SocketState, error) {
	switch status {
	case api.StatusOpenCallback:
		p.mu.Lock()
		p.resumeNotification = false
		p.mu.Unlock()
	case api.StatusError:
		p.error = true
	}

	p.info.SetStage(api.StageService)
	failed := p.dispatchEvent(status)
	p.info.SetStage(api.StageEnded)

	if failed && !p.finished {
		p.finish()
	}
	if !p.error && !p.event {
		p.finish()
	}
	if p.error {
		err := p.fatal
		p.Recycle()
		p.unbind()
		return api.StateClosed, err
	}
	if !p.event {
		p.Recycle()
		p.unbind()
		return api.StateOpen, nil
	}
	return api.StateLong, nil
}

func (p *Processor) service() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("adapter panic while servicing request",
				zap.String("conn", p.connID),
				zap.String("uri", p.req.RequestURI),
				zap.Error(api.NewError(api.ErrCodeApplication, "adapter panic").WithContext("panic", r)),
				zap.Stack("stack"))
			p.resp.Status = 500
			p.error = true
		}
	}()
	if err := p.adapter.Service(p.req, p.resp); err != nil {
		p.log.Error("error processing request",
			zap.String("conn", p.connID),
			zap.String("uri", p.req.RequestURI),
			zap.Error(api.WrapError(api.ErrCodeApplication, "service", err)))
		p.resp.Status = 500
		p.error = true
	}
}

func (p *Processor) dispatchEvent(status api.SocketStatus) (failed bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("adapter panic while processing event",
				zap.String("conn", p.connID),
				zap.Stringer("status", status),
				zap.Error(api.NewError(api.ErrCodeApplication, "adapter panic").WithContext("panic", r)),
				zap.Stack("stack"))
			p.resp.Status = 500
			p.error = true
			failed = true
		}
	}()
	ok, err := p.adapter.Event(p.req, p.resp, status)
	if err != nil {
		p.log.Error("error processing event",
			zap.String("conn", p.connID),
			zap.Stringer("status", status),
			zap.Error(api.WrapError(api.ErrCodeApplication, "event", err)))
		p.resp.Status = 500
		p.error = true
		return true
	}
	p.error = p.error || !ok
	return false
}

// Recycle resets the exchange state. The connection binding is kept.
func (p *Processor) Recycle() {
	p.first = true
	p.empty = true
	p.endOfStream = false
	p.replay = false
	p.finished = false
	p.event = false
	p.timeout.Store(int64(api.NoTimeout))
	p.mu.Lock()
	p.resumeNotification = false
	p.eventProcessing = true
	p.mu.Unlock()
	p.req.Recycle()
	p.resp.Recycle()
	p.bodyBytes = nil
	p.certificates = p.certificates[:0]
}

func (p *Processor) bind(conn net.Conn) {
	if p.conn != conn {
		p.connID = uuid.NewString()
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

func (p *Processor) unbind() {
	p.mu.Lock()
	p.conn = nil
	p.mu.Unlock()
	p.connID = ""
}

func (p *Processor) idleTimeout() time.Duration {
	if p.cfg.KeepAliveTimeout > 0 {
		return p.cfg.KeepAliveTimeout
	}
	return p.cfg.SoTimeout
}

func (p *Processor) setReadDeadline(d time.Duration) {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	_ = p.conn.SetReadDeadline(t)
}

func (p *Processor) write(b []byte) error {
	if p.conn == nil {
		return p.fail(api.ErrEndpointClosed)
	}
	if p.cfg.SoTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.cfg.SoTimeout))
	}
	if _, err := p.conn.Write(b); err != nil {
		return p.fail(err)
	}
	return nil
}

// fail records the first fatal error and flags the connection for closure.
func (p *Processor) fail(err error) error {
	p.error = true
	if p.fatal != nil {
		return p.fatal
	}
	switch {
	case errors.Is(err, protocol.ErrInvalidMessage), errors.Is(err, protocol.ErrUnderflow):
		p.fatal = api.WrapError(api.ErrCodeFraming, "invalid ajp message", err)
	case api.IsSocketError(err):
		p.fatal = api.WrapError(api.ErrCodeIO, "socket failure", err)
	default:
		p.fatal = err
	}
	return p.fatal
}

// idleClose reports a peer close or keep-alive expiry while waiting for the
// next request header.
func idleClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
