package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-ajp/protocol"
)

func TestMessageRoundTrip(t *testing.T) {
	out := protocol.NewMessage(protocol.MaxPacketSize)
	out.Reset()
	out.AppendByte(byte(protocol.TypeForwardRequest))
	out.AppendInt(0xA00B)
	out.AppendLongInt(0xDEADBEEF)
	out.AppendString("HTTP/1.1")
	out.AppendNull()
	out.AppendBytes([]byte{})
	if err := out.EndWithMagic(protocol.MagicToContainer); err != nil {
		t.Fatalf("end: %v", err)
	}

	in := protocol.NewMessage(protocol.MaxPacketSize)
	if err := protocol.ReadMessage(bytes.NewReader(out.Bytes()), in); err != nil {
		t.Fatalf("read: %v", err)
	}
	if in.Len() != out.Len() {
		t.Fatalf("length: got %d want %d", in.Len(), out.Len())
	}

	b, _ := in.GetByte()
	code, _ := in.GetInt()
	long, _ := in.GetLongInt()
	proto, _ := in.GetString()
	null, _ := in.GetBytes()
	empty, err := in.GetBytes()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := []any{b, code, long, proto, null == nil, empty != nil && len(empty) == 0}
	want := []any{byte(2), 0xA00B, uint32(0xDEADBEEF), "HTTP/1.1", true, true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded fields mismatch (-want +got):\n%s", diff)
	}
	if in.Position() != protocol.HeaderLength+in.Len() {
		t.Fatalf("cursor at %d, want end %d", in.Position(), protocol.HeaderLength+in.Len())
	}
	if _, err := in.GetByte(); !errors.Is(err, protocol.ErrUnderflow) {
		t.Fatalf("read past end: got %v", err)
	}
}

func TestScalarBoundsRoundTrip(t *testing.T) {
	out := protocol.NewMessage(protocol.MaxPacketSize)
	out.Reset()
	out.AppendByte(0)
	out.AppendByte(0xFF)
	out.AppendInt(0)
	out.AppendInt(0xFFFF)
	out.AppendLongInt(0)
	out.AppendLongInt(0xFFFFFFFF)
	if err := out.End(); err != nil {
		t.Fatalf("end: %v", err)
	}

	in := protocol.NewMessage(protocol.MaxPacketSize)
	if err := protocol.ReadMessage(bytes.NewReader(out.Bytes()), in); err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []any
	for i := 0; i < 2; i++ {
		b, _ := in.GetByte()
		got = append(got, b)
	}
	for i := 0; i < 2; i++ {
		n, _ := in.GetInt()
		got = append(got, n)
	}
	for i := 0; i < 2; i++ {
		n, err := in.GetLongInt()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, n)
	}
	want := []any{byte(0), byte(0xFF), 0, 0xFFFF, uint32(0), uint32(0xFFFFFFFF)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("bounds mismatch (-want +got):\n%s", diff)
	}
}

func TestEndWritesContainerHeader(t *testing.T) {
	m := protocol.NewMessage(64)
	m.Reset()
	m.AppendByte(byte(protocol.TypeEndResponse))
	m.AppendByte(1)
	if err := m.End(); err != nil {
		t.Fatal(err)
	}
	want := []byte{'A', 'B', 0x00, 0x02, 0x05, 0x01}
	if !bytes.Equal(m.Bytes(), want) {
		t.Fatalf("got % x want % x", m.Bytes(), want)
	}
}

func TestAppendOverflowIsSticky(t *testing.T) {
	m := protocol.NewMessage(protocol.MinPacketSize)
	m.Reset()
	// 12 payload bytes available, a 10-byte string needs 13.
	err := m.AppendString(strings.Repeat("x", 10))
	if !errors.Is(err, protocol.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := m.AppendByte(1); !errors.Is(err, protocol.ErrOverflow) {
		t.Fatalf("append after overflow: %v", err)
	}
	if err := m.End(); !errors.Is(err, protocol.ErrOverflow) {
		t.Fatalf("end after overflow: %v", err)
	}
	if m.Position() != protocol.HeaderLength {
		t.Fatalf("cursor moved to %d", m.Position())
	}
}

func TestAppendExactCapacity(t *testing.T) {
	m := protocol.NewMessage(protocol.MinPacketSize)
	m.Reset()
	if err := m.AppendString(strings.Repeat("y", 9)); err != nil {
		t.Fatalf("9-byte string must fit: %v", err)
	}
	if err := m.End(); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 12 {
		t.Fatalf("len %d", m.Len())
	}
}

func TestProcessHeaderRejects(t *testing.T) {
	cases := []struct {
		name string
		hdr  []byte
	}{
		{"bad magic", []byte{0x12, 0x35, 0x00, 0x01}},
		{"oversize", []byte{0x12, 0x34, 0x20, 0x00}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := protocol.NewMessage(protocol.MaxPacketSize)
			copy(m.Buffer(), tc.hdr)
			if _, err := m.ProcessHeader(); !errors.Is(err, protocol.ErrInvalidMessage) {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestProcessHeaderAcceptsBothMagics(t *testing.T) {
	for _, hdr := range [][]byte{{0x12, 0x34, 0x00, 0x00}, {'A', 'B', 0x00, 0x00}} {
		m := protocol.NewMessage(protocol.MaxPacketSize)
		copy(m.Buffer(), hdr)
		if _, err := m.ProcessHeader(); err != nil {
			t.Fatalf("% x: %v", hdr, err)
		}
	}
}

func TestGetBytesNeedsTerminator(t *testing.T) {
	// length 3, three bytes, no terminator
	pkt := []byte{0x12, 0x34, 0x00, 0x05, 0x00, 0x03, 'a', 'b', 'c'}
	m := protocol.NewMessage(protocol.MaxPacketSize)
	if err := protocol.ReadMessage(bytes.NewReader(pkt), m); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetBytes(); !errors.Is(err, protocol.ErrUnderflow) {
		t.Fatalf("got %v", err)
	}
}

func TestGetBodyBytes(t *testing.T) {
	out := protocol.NewMessage(protocol.MaxPacketSize)
	out.Reset()
	out.AppendBody([]byte("abc"))
	out.EndWithMagic(protocol.MagicToContainer)
	pkt := []byte{0x12, 0x34, 0x00, 0x05, 0x00, 0x03, 'a', 'b', 'c'}
	if !bytes.Equal(out.Bytes(), pkt) {
		t.Fatalf("encoded % x", out.Bytes())
	}
	m := protocol.NewMessage(protocol.MaxPacketSize)
	if err := protocol.ReadMessage(bytes.NewReader(pkt), m); err != nil {
		t.Fatal(err)
	}
	b, err := m.GetBodyBytes()
	if err != nil || string(b) != "abc" {
		t.Fatalf("got %q, %v", b, err)
	}
}

func TestReadMessageTruncated(t *testing.T) {
	m := protocol.NewMessage(protocol.MaxPacketSize)
	if err := protocol.ReadMessage(bytes.NewReader(nil), m); err != io.EOF {
		t.Fatalf("empty stream: %v", err)
	}
	pkt := []byte{0x12, 0x34, 0x00, 0x0A, 1, 2, 3}
	if err := protocol.ReadMessage(bytes.NewReader(pkt), m); err != io.ErrUnexpectedEOF {
		t.Fatalf("short payload: %v", err)
	}
}

func TestEncodeCopiesPacket(t *testing.T) {
	pong, err := protocol.Encode(16, func(m *protocol.Message) {
		m.AppendByte(byte(protocol.TypeCPongReply))
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{'A', 'B', 0, 1, 9}, pong); diff != "" {
		t.Fatal(diff)
	}
}

func TestTables(t *testing.T) {
	if name, ok := protocol.MethodName(2); !ok || name != "GET" {
		t.Fatalf("method 2: %q %v", name, ok)
	}
	if _, ok := protocol.MethodName(protocol.MethodStored); ok {
		t.Fatal("stored marker must not translate")
	}
	if code := protocol.MethodCode("MKACTIVITY"); code != 27 {
		t.Fatalf("MKACTIVITY code %d", code)
	}
	if name, _ := protocol.RequestHeaderName(protocol.ReqHeaderHost); name != "host" {
		t.Fatalf("host code: %q", name)
	}
	if code := protocol.ResponseHeaderCode("content-type"); code != 0xA001 {
		t.Fatalf("content-type code %#x", code)
	}
	if code := protocol.ResponseHeaderCode("X-Trace"); code != 0 {
		t.Fatalf("literal header got code %#x", code)
	}
	if a := protocol.ParseAttribute(0x42); a != protocol.AttrUnknown {
		t.Fatalf("unknown attribute parsed as %v", a)
	}
}

func FuzzMessageDecode(f *testing.F) {
	f.Add([]byte{0x12, 0x34, 0x00, 0x05, 0x02, 0x00, 0x01, 'x', 0x00})
	f.Add([]byte{0x12, 0x34, 0x00, 0x01, 0x0A})
	f.Add([]byte{'A', 'B', 0xFF, 0xFF})
	f.Add([]byte{0x12, 0x34, 0x00, 0x04, 0xFF, 0xFF, 0x00, 0x07})
	f.Fuzz(func(t *testing.T, data []byte) {
		m := protocol.NewMessage(protocol.MaxPacketSize)
		if err := protocol.ReadMessage(bytes.NewReader(data), m); err != nil {
			return
		}
		limit := protocol.HeaderLength + m.Len()
		for i := 0; ; i++ {
			var err error
			switch i % 5 {
			case 0:
				_, err = m.GetByte()
			case 1:
				_, err = m.GetInt()
			case 2:
				_, err = m.GetBytes()
			case 3:
				_, err = m.GetLongInt()
			case 4:
				_, err = m.GetBodyBytes()
			}
			if m.Position() > limit {
				t.Fatalf("cursor %d past limit %d", m.Position(), limit)
			}
			if err != nil {
				return
			}
		}
	})
}
