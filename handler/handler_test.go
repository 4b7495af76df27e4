package handler_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/control"
	"github.com/momentics/hioload-ajp/exchange"
	"github.com/momentics/hioload-ajp/handler"
	"github.com/momentics/hioload-ajp/processor"
	"github.com/momentics/hioload-ajp/protocol"
)

type adapterFuncs struct {
	service func(req *exchange.Request, resp *exchange.Response) error
	event   func(req *exchange.Request, resp *exchange.Response, status api.SocketStatus) (bool, error)
}

func (a adapterFuncs) Service(req *exchange.Request, resp *exchange.Response) error {
	if a.service == nil {
		return nil
	}
	return a.service(req, resp)
}

func (a adapterFuncs) Event(req *exchange.Request, resp *exchange.Response, status api.SocketStatus) (bool, error) {
	if a.event == nil {
		return true, nil
	}
	return a.event(req, resp, status)
}

type registration struct {
	Timeout      time.Duration
	Resume, Read bool
}

type recordingPoller struct {
	mu   sync.Mutex
	regs []registration
}

func (r *recordingPoller) Add(_ net.Conn, timeout time.Duration, resume, read bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = append(r.regs, registration{timeout, resume, read})
	return nil
}

func (r *recordingPoller) Remove(net.Conn) {}

func (r *recordingPoller) Len() int { return 0 }

func (r *recordingPoller) registrations() []registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registration(nil), r.regs...)
}

func newHandler(t *testing.T, a api.Adapter, opts ...handler.Option) (*handler.ConnectionHandler, *recordingPoller) {
	t.Helper()
	opts = append([]handler.Option{handler.WithRequestGroup(control.NewRequestGroup(nil, "test"))}, opts...)
	h := handler.New(processor.Config{PacketSize: protocol.MaxPacketSize}, a, opts...)
	poller := &recordingPoller{}
	h.SetPoller(poller)
	return h, poller
}

// peer drives the web server side of a pipe and collects what the
// connector sends back.
type peer struct {
	conn net.Conn
	got  chan protocol.MessageType
}

func dial(t *testing.T) (net.Conn, *peer) {
	t.Helper()
	server, client := net.Pipe()
	client.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	p := &peer{conn: client, got: make(chan protocol.MessageType, 16)}
	go func() {
		m := protocol.NewMessage(protocol.MaxPacketSize)
		for {
			if err := protocol.ReadMessage(client, m); err != nil {
				close(p.got)
				return
			}
			typ, _ := m.GetByte()
			p.got <- protocol.MessageType(typ)
		}
	}()
	return server, p
}

func (p *peer) forward(t *testing.T) {
	t.Helper()
	m := protocol.NewMessage(protocol.MaxPacketSize)
	m.AppendByte(byte(protocol.TypeForwardRequest))
	m.AppendByte(protocol.MethodCode("GET"))
	m.AppendString("HTTP/1.1")
	m.AppendString("/")
	m.AppendString("127.0.0.1")
	m.AppendNull()
	m.AppendString("localhost")
	m.AppendInt(8009)
	m.AppendByte(0)
	m.AppendInt(0)
	m.AppendByte(byte(protocol.AttrAreDone))
	if err := m.EndWithMagic(protocol.MagicToContainer); err != nil {
		t.Fatal(err)
	}
	if _, err := p.conn.Write(m.Bytes()); err != nil {
		t.Fatal(err)
	}
}

func (p *peer) expect(t *testing.T, want ...protocol.MessageType) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-p.got:
			if got != w {
				t.Fatalf("got %s, want %s", got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}

// serve runs Process and sends one request through it.
func serve(t *testing.T, h *handler.ConnectionHandler) (net.Conn, *peer, <-chan api.SocketState) {
	t.Helper()
	conn, p := dial(t)
	done := make(chan api.SocketState, 1)
	go func() { done <- h.Process(conn) }()
	p.forward(t)
	return conn, p, done
}

func await(t *testing.T, done <-chan api.SocketState) api.SocketState {
	t.Helper()
	select {
	case st := <-done:
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
		return api.StateClosed
	}
}

func TestProcessorsAreReused(t *testing.T) {
	h, _ := newHandler(t, adapterFuncs{})
	for i := 0; i < 3; i++ {
		_, p, done := serve(t, h)
		p.expect(t, protocol.TypeSendHeaders, protocol.TypeEndResponse)
		p.conn.Close()
		if st := await(t, done); st != api.StateClosed {
			t.Fatalf("state %v", st)
		}
	}
	if h.Idle() != 1 || h.RequestGroup().Registered() != 1 {
		t.Fatalf("idle=%d registered=%d", h.Idle(), h.RequestGroup().Registered())
	}
	if n := h.RequestGroup().Stats().RequestCount; n != 3 {
		t.Fatalf("request count %d", n)
	}
}

func TestZeroCacheDiscards(t *testing.T) {
	h, _ := newHandler(t, adapterFuncs{}, handler.WithCache(0))
	_, p, done := serve(t, h)
	p.expect(t, protocol.TypeSendHeaders, protocol.TypeEndResponse)
	p.conn.Close()
	await(t, done)

	st := h.RequestGroup().Stats()
	if h.Idle() != 0 || st.Registered != 0 || st.Discarded != 1 {
		t.Fatalf("idle=%d stats=%+v", h.Idle(), st)
	}
}

func TestFramingErrorDiscards(t *testing.T) {
	h, _ := newHandler(t, adapterFuncs{})
	conn, p := dial(t)
	done := make(chan api.SocketState, 1)
	go func() { done <- h.Process(conn) }()
	p.conn.Write([]byte{'G', 'E', 'T', ' '})
	if st := await(t, done); st != api.StateClosed {
		t.Fatalf("state %v", st)
	}
	if h.Idle() != 0 || h.RequestGroup().Stats().Discarded != 1 {
		t.Fatalf("idle=%d discarded=%d", h.Idle(), h.RequestGroup().Stats().Discarded)
	}
}

func TestSuspendAndResume(t *testing.T) {
	a := adapterFuncs{
		service: func(req *exchange.Request, _ *exchange.Response) error {
			return req.Action(exchange.ActionEventBegin, nil)
		},
		event: func(req *exchange.Request, resp *exchange.Response, status api.SocketStatus) (bool, error) {
			if _, err := resp.WriteString("done"); err != nil {
				return false, err
			}
			return true, req.Action(exchange.ActionEventEnd, nil)
		},
	}
	h, poller := newHandler(t, a)
	conn, p, done := serve(t, h)
	if st := await(t, done); st != api.StateLong {
		t.Fatalf("state %v", st)
	}
	if h.Suspended() != 1 || h.RequestGroup().Stats().Suspended != 1 {
		t.Fatalf("suspended=%d", h.Suspended())
	}
	want := []registration{{Timeout: api.NoTimeout, Read: true}}
	if diff := cmp.Diff(want, poller.registrations()); diff != "" {
		t.Fatalf("registrations (-want +got):\n%s", diff)
	}

	if st := h.Event(conn, api.StatusOpenCallback); st != api.StateOpen {
		t.Fatalf("event state %v", st)
	}
	p.expect(t, protocol.TypeSendHeaders, protocol.TypeSendBodyChunk, protocol.TypeEndResponse)
	if h.Suspended() != 0 || h.Idle() != 1 || h.RequestGroup().Stats().Suspended != 0 {
		t.Fatalf("suspended=%d idle=%d", h.Suspended(), h.Idle())
	}
	if st := h.Event(conn, api.StatusOpenRead); st != api.StateClosed {
		t.Fatalf("stale event state %v", st)
	}
}

func TestWakeupDuringServiceIsForwarded(t *testing.T) {
	a := adapterFuncs{
		service: func(req *exchange.Request, _ *exchange.Response) error {
			req.Action(exchange.ActionEventTimeout, time.Minute)
			req.Action(exchange.ActionEventBegin, nil)
			return req.Action(exchange.ActionEventWakeup, nil)
		},
	}
	h, poller := newHandler(t, a)
	_, _, done := serve(t, h)
	if st := await(t, done); st != api.StateLong {
		t.Fatalf("state %v", st)
	}
	want := []registration{{Timeout: time.Minute, Resume: true, Read: true}}
	if diff := cmp.Diff(want, poller.registrations()); diff != "" {
		t.Fatalf("registrations (-want +got):\n%s", diff)
	}
}

func TestEventStaysLong(t *testing.T) {
	events := 0
	a := adapterFuncs{
		service: func(req *exchange.Request, _ *exchange.Response) error {
			return req.Action(exchange.ActionEventBegin, nil)
		},
		event: func(*exchange.Request, *exchange.Response, api.SocketStatus) (bool, error) {
			events++
			return true, nil
		},
	}
	h, poller := newHandler(t, a)
	conn, _, done := serve(t, h)
	await(t, done)
	if st := h.Event(conn, api.StatusTimeout); st != api.StateLong {
		t.Fatalf("state %v", st)
	}
	if events != 1 || len(poller.registrations()) != 2 || h.Suspended() != 1 {
		t.Fatalf("events=%d registrations=%d suspended=%d", events, len(poller.registrations()), h.Suspended())
	}
}

func TestEventFailureCloses(t *testing.T) {
	a := adapterFuncs{
		service: func(req *exchange.Request, _ *exchange.Response) error {
			return req.Action(exchange.ActionEventBegin, nil)
		},
		event: func(*exchange.Request, *exchange.Response, api.SocketStatus) (bool, error) {
			return false, nil
		},
	}
	h, _ := newHandler(t, a)
	conn, _, done := serve(t, h)
	await(t, done)
	if st := h.Event(conn, api.StatusStop); st != api.StateClosed {
		t.Fatalf("state %v", st)
	}
	if h.Suspended() != 0 || h.Idle() != 1 {
		t.Fatalf("suspended=%d idle=%d", h.Suspended(), h.Idle())
	}
}

func TestSetConfigDropsIdleProcessors(t *testing.T) {
	h, _ := newHandler(t, adapterFuncs{})
	_, p, done := serve(t, h)
	p.expect(t, protocol.TypeSendHeaders, protocol.TypeEndResponse)
	p.conn.Close()
	await(t, done)

	cfg := h.Config()
	cfg.RequiredSecret = "rotated"
	h.SetConfig(cfg)
	if h.Idle() != 0 || h.RequestGroup().Registered() != 0 {
		t.Fatalf("idle=%d registered=%d", h.Idle(), h.RequestGroup().Registered())
	}
	if h.Config().RequiredSecret != "rotated" {
		t.Fatal("config not applied")
	}
}

func TestProcessorBusyDuringSetConfigIsNotPooled(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h, _ := newHandler(t, adapterFuncs{service: func(*exchange.Request, *exchange.Response) error {
		close(entered)
		<-release
		return nil
	}})
	_, p, done := serve(t, h)
	<-entered
	cfg := h.Config()
	cfg.TrustedAuthentication = true
	h.SetConfig(cfg)
	close(release)

	p.expect(t, protocol.TypeSendHeaders, protocol.TypeEndResponse)
	p.conn.Close()
	await(t, done)
	st := h.RequestGroup().Stats()
	if h.Idle() != 0 || st.Registered != 0 || st.Discarded != 1 {
		t.Fatalf("idle=%d stats=%+v", h.Idle(), st)
	}
}

func TestReleaseDropsSuspendedProcessor(t *testing.T) {
	events := 0
	a := adapterFuncs{
		service: func(req *exchange.Request, _ *exchange.Response) error {
			return req.Action(exchange.ActionEventBegin, nil)
		},
		event: func(*exchange.Request, *exchange.Response, api.SocketStatus) (bool, error) {
			events++
			return true, nil
		},
	}
	h, _ := newHandler(t, a)
	conn, _, done := serve(t, h)
	if st := await(t, done); st != api.StateLong {
		t.Fatalf("state %v", st)
	}

	h.Release(conn)
	st := h.RequestGroup().Stats()
	if h.Suspended() != 0 || st.Suspended != 0 || st.Discarded != 1 || h.Idle() != 0 {
		t.Fatalf("suspended=%d idle=%d stats=%+v", h.Suspended(), h.Idle(), st)
	}
	if st := h.Event(conn, api.StatusStop); st != api.StateClosed || events != 0 {
		t.Fatalf("event after release: state %v, adapter events %d", st, events)
	}
	h.Release(conn)
	if n := h.RequestGroup().Stats().Discarded; n != 1 {
		t.Fatalf("discarded %d", n)
	}
}
