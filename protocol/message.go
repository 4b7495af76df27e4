// File: protocol/message.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Message is a fixed-capacity buffer holding one framed AJP packet. It is
// allocated once per processor direction and reset between exchanges; all
// accessors are bounds-checked against the capacity (writes) or the declared
// payload length (reads).

package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrOverflow is returned when an append does not fit the capacity.
	ErrOverflow = errors.New("ajp message overflow")
	// ErrUnderflow is returned when a read goes past the declared length.
	ErrUnderflow = errors.New("ajp message underflow")
	// ErrInvalidMessage is returned for a bad magic or an oversized length.
	ErrInvalidMessage = errors.New("invalid ajp message")
)

// Message is one AJP packet: 4-byte header followed by the payload.
type Message struct {
	buf []byte
	pos int // cursor, absolute offset in buf
	len int // payload length, header excluded
	err error
}

// NewMessage allocates a message of the given packet size.
func NewMessage(packetSize int) *Message {
	if packetSize < MinPacketSize {
		packetSize = MinPacketSize
	}
	m := &Message{buf: make([]byte, packetSize)}
	m.Reset()
	return m
}

// Reset prepares the message for encoding.
func (m *Message) Reset() {
	m.pos = HeaderLength
	m.len = 0
	m.err = nil
}

// Buffer exposes the backing array.
func (m *Message) Buffer() []byte { return m.buf }

// Capacity returns the packet size, header included.
func (m *Message) Capacity() int { return len(m.buf) }

// Len returns the payload length.
func (m *Message) Len() int { return m.len }

// Position returns the cursor offset from the start of the packet.
func (m *Message) Position() int { return m.pos }

// Err returns the first append failure since the last Reset.
func (m *Message) Err() error { return m.err }

// Bytes returns the framed packet, header included.
func (m *Message) Bytes() []byte { return m.buf[:HeaderLength+m.len] }

func (m *Message) reserve(n int) bool {
	if m.err != nil {
		return false
	}
	if m.pos+n > len(m.buf) {
		m.err = fmt.Errorf("%w: %d bytes at offset %d, capacity %d", ErrOverflow, n, m.pos, len(m.buf))
		return false
	}
	return true
}

// AppendByte writes one byte.
func (m *Message) AppendByte(b byte) error {
	if !m.reserve(1) {
		return m.err
	}
	m.buf[m.pos] = b
	m.pos++
	return nil
}

// AppendInt writes a 16-bit big-endian integer.
func (m *Message) AppendInt(v uint16) error {
	if !m.reserve(2) {
		return m.err
	}
	binary.BigEndian.PutUint16(m.buf[m.pos:], v)
	m.pos += 2
	return nil
}

// AppendLongInt writes a 32-bit big-endian integer.
func (m *Message) AppendLongInt(v uint32) error {
	if !m.reserve(4) {
		return m.err
	}
	binary.BigEndian.PutUint32(m.buf[m.pos:], v)
	m.pos += 4
	return nil
}

// AppendBytes writes a length-prefixed, zero-terminated byte sequence.
func (m *Message) AppendBytes(b []byte) error {
	if len(b) >= NullStringLength {
		if m.err == nil {
			m.err = fmt.Errorf("%w: %d byte string", ErrOverflow, len(b))
		}
		return m.err
	}
	if !m.reserve(2 + len(b) + 1) {
		return m.err
	}
	binary.BigEndian.PutUint16(m.buf[m.pos:], uint16(len(b)))
	m.pos += 2
	m.pos += copy(m.buf[m.pos:], b)
	m.buf[m.pos] = 0
	m.pos++
	return nil
}

// AppendString writes s like AppendBytes.
func (m *Message) AppendString(s string) error {
	if len(s) >= NullStringLength {
		if m.err == nil {
			m.err = fmt.Errorf("%w: %d byte string", ErrOverflow, len(s))
		}
		return m.err
	}
	if !m.reserve(2 + len(s) + 1) {
		return m.err
	}
	binary.BigEndian.PutUint16(m.buf[m.pos:], uint16(len(s)))
	m.pos += 2
	m.pos += copy(m.buf[m.pos:], s)
	m.buf[m.pos] = 0
	m.pos++
	return nil
}

// AppendBody writes a length-prefixed chunk without terminator, the layout
// of a request body message.
func (m *Message) AppendBody(b []byte) error {
	if len(b) >= NullStringLength {
		if m.err == nil {
			m.err = fmt.Errorf("%w: %d byte chunk", ErrOverflow, len(b))
		}
		return m.err
	}
	if !m.reserve(2 + len(b)) {
		return m.err
	}
	binary.BigEndian.PutUint16(m.buf[m.pos:], uint16(len(b)))
	m.pos += 2
	m.pos += copy(m.buf[m.pos:], b)
	return nil
}

// AppendNull writes the absent-string marker.
func (m *Message) AppendNull() error {
	return m.AppendInt(NullStringLength)
}

// End finalizes the header of a container-to-server message.
func (m *Message) End() error {
	return m.EndWithMagic(MagicFromContainer)
}

// EndWithMagic finalizes the header with an explicit magic.
func (m *Message) EndWithMagic(magic uint16) error {
	if m.err != nil {
		return m.err
	}
	m.len = m.pos - HeaderLength
	binary.BigEndian.PutUint16(m.buf[0:], magic)
	binary.BigEndian.PutUint16(m.buf[2:], uint16(m.len))
	return nil
}

// ProcessHeader validates the header already present in the buffer and
// positions the cursor at the first payload byte. It returns the declared
// payload length.
func (m *Message) ProcessHeader() (int, error) {
	m.pos = 0
	m.len = 0
	m.err = nil
	magic := binary.BigEndian.Uint16(m.buf[0:])
	n := int(binary.BigEndian.Uint16(m.buf[2:]))
	if magic != MagicToContainer && magic != MagicFromContainer {
		return 0, fmt.Errorf("%w: bad magic 0x%04x", ErrInvalidMessage, magic)
	}
	if n > len(m.buf)-HeaderLength {
		return 0, fmt.Errorf("%w: declared length %d exceeds capacity %d", ErrInvalidMessage, n, len(m.buf)-HeaderLength)
	}
	m.len = n
	m.pos = HeaderLength
	return n, nil
}

func (m *Message) need(n int) error {
	if n < 0 || m.pos+n > HeaderLength+m.len {
		return fmt.Errorf("%w: %d bytes at offset %d, length %d", ErrUnderflow, n, m.pos, m.len)
	}
	return nil
}

// GetByte reads one byte.
func (m *Message) GetByte() (byte, error) {
	if err := m.need(1); err != nil {
		return 0, err
	}
	b := m.buf[m.pos]
	m.pos++
	return b, nil
}

// GetInt reads a 16-bit big-endian integer.
func (m *Message) GetInt() (int, error) {
	v, err := m.PeekInt()
	if err != nil {
		return 0, err
	}
	m.pos += 2
	return v, nil
}

// PeekInt reads a 16-bit integer without moving the cursor.
func (m *Message) PeekInt() (int, error) {
	if err := m.need(2); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(m.buf[m.pos:])), nil
}

// GetLongInt reads a 32-bit big-endian integer.
func (m *Message) GetLongInt() (uint32, error) {
	if err := m.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(m.buf[m.pos:])
	m.pos += 4
	return v, nil
}

// GetBytes reads a length-prefixed, zero-terminated sequence. The result
// aliases the message buffer and is nil for the absent-string marker.
func (m *Message) GetBytes() ([]byte, error) {
	n, err := m.GetInt()
	if err != nil {
		return nil, err
	}
	if n == NullStringLength {
		return nil, nil
	}
	if err := m.need(n + 1); err != nil {
		return nil, err
	}
	b := m.buf[m.pos : m.pos+n : m.pos+n]
	m.pos += n + 1
	return b, nil
}

// GetString reads a sequence like GetBytes and copies it into a string.
func (m *Message) GetString() (string, error) {
	b, err := m.GetBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetBodyBytes reads the length-prefixed chunk of a request body message,
// which has no terminator.
func (m *Message) GetBodyBytes() ([]byte, error) {
	n, err := m.GetInt()
	if err != nil {
		return nil, err
	}
	if err := m.need(n); err != nil {
		return nil, err
	}
	b := m.buf[m.pos : m.pos+n : m.pos+n]
	m.pos += n
	return b, nil
}

// WriteTo writes the framed packet to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.Bytes())
	return int64(n), err
}

// Dump renders up to limit bytes of the packet for diagnostics.
func (m *Message) Dump(limit int) string {
	b := m.buf[:HeaderLength+m.len]
	if limit > 0 && len(b) > limit {
		b = b[:limit]
	}
	return hex.EncodeToString(b)
}

// ReadMessage reads one framed packet from r into m. A clean end of stream
// before the first header byte is reported as io.EOF; a truncated packet as
// io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader, m *Message) error {
	m.Reset()
	if _, err := io.ReadFull(r, m.buf[:HeaderLength]); err != nil {
		return err
	}
	n, err := m.ProcessHeader()
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(r, m.buf[HeaderLength:HeaderLength+n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// Encode builds a standalone packet of the given capacity and returns a copy
// of its bytes. It is used for the fixed control messages.
func Encode(capacity int, build func(m *Message)) ([]byte, error) {
	m := NewMessage(capacity)
	build(m)
	if err := m.End(); err != nil {
		return nil, err
	}
	out := make([]byte, HeaderLength+m.len)
	copy(out, m.buf)
	return out, nil
}
