package processor_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/exchange"
	"github.com/momentics/hioload-ajp/processor"
	"github.com/momentics/hioload-ajp/protocol"
)

type testAdapter struct {
	service func(req *exchange.Request, resp *exchange.Response) error
	event   func(req *exchange.Request, resp *exchange.Response, status api.SocketStatus) (bool, error)
	calls   int
}

func (a *testAdapter) Service(req *exchange.Request, resp *exchange.Response) error {
	a.calls++
	if a.service == nil {
		return nil
	}
	return a.service(req, resp)
}

func (a *testAdapter) Event(req *exchange.Request, resp *exchange.Response, status api.SocketStatus) (bool, error) {
	if a.event == nil {
		return true, nil
	}
	return a.event(req, resp, status)
}

type addCall struct {
	timeout      time.Duration
	resume, read bool
}

type fakePoller struct {
	mu   sync.Mutex
	adds []addCall
}

func (f *fakePoller) Add(_ net.Conn, timeout time.Duration, resume, read bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, addCall{timeout, resume, read})
	return nil
}

func (f *fakePoller) Remove(net.Conn) {}

func (f *fakePoller) Len() int { return 0 }

func (f *fakePoller) calls() []addCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]addCall(nil), f.adds...)
}

// forward describes a FORWARD_REQUEST sent by the fake web server.
type forward struct {
	method  byte
	uri     string
	ssl     bool
	headers [][2]string
	attrs   func(m *protocol.Message)
}

func (f forward) encode(m *protocol.Message) {
	method := f.method
	if method == 0 {
		method = protocol.MethodCode("GET")
	}
	uri := f.uri
	if uri == "" {
		uri = "/"
	}
	m.AppendByte(byte(protocol.TypeForwardRequest))
	m.AppendByte(method)
	m.AppendString("HTTP/1.1")
	m.AppendString(uri)
	m.AppendString("10.0.0.1")
	m.AppendNull()
	m.AppendString("localhost")
	m.AppendInt(8009)
	if f.ssl {
		m.AppendByte(1)
	} else {
		m.AppendByte(0)
	}
	m.AppendInt(uint16(len(f.headers)))
	for _, h := range f.headers {
		if code := protocol.RequestHeaderCode(h[0]); code != 0 {
			m.AppendInt(uint16(code))
		} else {
			m.AppendString(h[0])
		}
		m.AppendString(h[1])
	}
	if f.attrs != nil {
		f.attrs(m)
	}
	m.AppendByte(byte(protocol.AttrAreDone))
}

type result struct {
	state api.SocketState
	err   error
}

// webServer is the peer side of a processor connection.
type webServer struct {
	t    *testing.T
	conn net.Conn
	in   *protocol.Message
}

func newPair(t *testing.T) (net.Conn, *webServer) {
	t.Helper()
	server, client := net.Pipe()
	client.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, &webServer{t: t, conn: client, in: protocol.NewMessage(protocol.MaxPacketSize)}
}

func newProcessor(cfg processor.Config, a api.Adapter, poller api.EventPoller) *processor.Processor {
	if cfg.PacketSize == 0 {
		cfg.PacketSize = protocol.MaxPacketSize
	}
	return processor.New(cfg, a, poller, nil, zap.NewNop())
}

// newObservedProcessor records every log entry of the processor.
func newObservedProcessor(cfg processor.Config, a api.Adapter) (*processor.Processor, *observer.ObservedLogs) {
	if cfg.PacketSize == 0 {
		cfg.PacketSize = protocol.MaxPacketSize
	}
	core, logs := observer.New(zap.DebugLevel)
	return processor.New(cfg, a, nil, nil, zap.New(core)), logs
}

// loggedError returns the error attached to the first entry logged as msg.
func loggedError(t *testing.T, logs *observer.ObservedLogs, msg string) error {
	t.Helper()
	entries := logs.FilterMessage(msg).All()
	if len(entries) == 0 {
		t.Fatalf("nothing logged as %q", msg)
	}
	for _, f := range entries[0].Context {
		if err, ok := f.Interface.(error); ok && f.Key == "error" {
			return err
		}
	}
	t.Fatalf("%q logged without an error", msg)
	return nil
}

func startProcess(t *testing.T, p *processor.Processor) (*webServer, <-chan result) {
	t.Helper()
	server, ws := newPair(t)
	done := make(chan result, 1)
	go func() {
		st, err := p.Process(server)
		done <- result{st, err}
	}()
	return ws, done
}

func (w *webServer) send(build func(m *protocol.Message)) {
	w.t.Helper()
	m := protocol.NewMessage(protocol.MaxPacketSize)
	m.Reset()
	build(m)
	if err := m.EndWithMagic(protocol.MagicToContainer); err != nil {
		w.t.Fatalf("encode: %v", err)
	}
	if _, err := w.conn.Write(m.Bytes()); err != nil {
		w.t.Fatalf("send: %v", err)
	}
}

func (w *webServer) forward(f forward) { w.send(f.encode) }

func (w *webServer) sendBody(b []byte) {
	w.send(func(m *protocol.Message) { m.AppendBody(b) })
}

func (w *webServer) recv() (protocol.MessageType, *protocol.Message) {
	w.t.Helper()
	if err := protocol.ReadMessage(w.conn, w.in); err != nil {
		w.t.Fatalf("recv: %v", err)
	}
	typ, err := w.in.GetByte()
	if err != nil {
		w.t.Fatalf("recv type: %v", err)
	}
	return protocol.MessageType(typ), w.in
}

func (w *webServer) expect(want protocol.MessageType) *protocol.Message {
	w.t.Helper()
	typ, m := w.recv()
	if typ != want {
		w.t.Fatalf("got %s, want %s (% x)", typ, want, m.Bytes())
	}
	return m
}

type headers struct {
	status int
	reason string
	fields map[string]string
	order  []string
}

func (w *webServer) expectHeaders() headers {
	w.t.Helper()
	m := w.expect(protocol.TypeSendHeaders)
	var h headers
	var err error
	if h.status, err = m.GetInt(); err != nil {
		w.t.Fatal(err)
	}
	if h.reason, err = m.GetString(); err != nil {
		w.t.Fatal(err)
	}
	n, err := m.GetInt()
	if err != nil {
		w.t.Fatal(err)
	}
	h.fields = make(map[string]string, n)
	for i := 0; i < n; i++ {
		code, err := m.PeekInt()
		if err != nil {
			w.t.Fatal(err)
		}
		var name string
		if code&0xFF00 == protocol.HeaderCodePrefix {
			m.GetInt()
			name, _ = protocol.ResponseHeaderName(code & 0xFF)
		} else if name, err = m.GetString(); err != nil {
			w.t.Fatal(err)
		}
		value, err := m.GetString()
		if err != nil {
			w.t.Fatal(err)
		}
		h.fields[name] = value
		h.order = append(h.order, name)
	}
	return h
}

func (w *webServer) expectBody() []byte {
	w.t.Helper()
	m := w.expect(protocol.TypeSendBodyChunk)
	b, err := m.GetBytes()
	if err != nil {
		w.t.Fatal(err)
	}
	return append([]byte(nil), b...)
}

func (w *webServer) expectEnd() byte {
	w.t.Helper()
	m := w.expect(protocol.TypeEndResponse)
	reuse, err := m.GetByte()
	if err != nil {
		w.t.Fatal(err)
	}
	return reuse
}

func (w *webServer) expectGetBody() int {
	w.t.Helper()
	m := w.expect(protocol.TypeGetBodyChunk)
	n, err := m.GetInt()
	if err != nil {
		w.t.Fatal(err)
	}
	return n
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not return")
		return result{}
	}
}
