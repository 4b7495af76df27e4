// File: processor/response.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package processor

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/exchange"
	"github.com/momentics/hioload-ajp/protocol"
)

var crlf = strings.NewReplacer("\r", " ", "\n", " ")

// prepareResponse commits the response and writes SEND_HEADERS.
func (p *Processor) prepareResponse() error {
	resp := p.resp
	resp.SetCommitted(true)

	if resp.ContentType != "" {
		resp.Headers.Set("Content-Type", resp.ContentType)
	}
	if resp.ContentLanguage != "" {
		resp.Headers.Set("Content-Language", resp.ContentLanguage)
	}
	if resp.ContentLength >= 0 {
		resp.Headers.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}

	m := p.responseHeader
	if err := p.encodeHeaders(m, resp.Status, reason(resp), &resp.Headers); err != nil {
		p.log.Warn("response headers exceed packet size, sending bare 500",
			zap.String("conn", p.connID),
			zap.Int("packet_size", p.cfg.PacketSize),
			zap.Error(err))
		p.error = true
		if err := p.encodeHeaders(m, 500, http.StatusText(500), nil); err != nil {
			return err
		}
	}
	return p.write(m.Bytes())
}

func (p *Processor) encodeHeaders(m *protocol.Message, status int, msg string, headers *exchange.Headers) error {
	m.Reset()
	m.AppendByte(byte(protocol.TypeSendHeaders))
	m.AppendInt(uint16(status))
	m.AppendString(msg)
	if headers == nil {
		m.AppendInt(0)
		return m.End()
	}
	count := 0
	for i := 0; i < headers.Len(); i++ {
		if headers.Name(i) != "" {
			count++
		}
	}
	m.AppendInt(uint16(count))
	for i := 0; i < headers.Len(); i++ {
		name := headers.Name(i)
		if name == "" {
			continue
		}
		if code := protocol.ResponseHeaderCode(name); code > 0 {
			m.AppendInt(uint16(code))
		} else {
			m.AppendString(name)
		}
		m.AppendString(headers.Value(i))
	}
	return m.End()
}

// reason is the status line text: the custom message on a single line,
// else the standard text, else the number itself.
func reason(resp *exchange.Response) string {
	if resp.Message != "" {
		return crlf.Replace(resp.Message)
	}
	if s := http.StatusText(resp.Status); s != "" {
		return s
	}
	return strconv.Itoa(resp.Status)
}

// finish completes the exchange: headers if not yet sent, then exactly one
// END_RESPONSE. An undrained first body chunk is consumed afterwards; a
// failure there only closes the connection, the exchange being complete.
func (p *Processor) finish() error {
	if !p.resp.Committed() {
		p.prepareResponse()
	}
	if p.finished {
		return p.fatal
	}
	p.finished = true

	end := endMessage
	if p.error {
		end = endCloseMessage
	}
	if err := p.write(end); err != nil {
		return err
	}

	if p.first && p.req.ContentLength > 0 {
		fatal := p.fatal
		if _, err := p.receive(); err != nil {
			p.log.Debug("error draining request body",
				zap.String("conn", p.connID), zap.Error(err))
			p.fatal = fatal
		}
	}
	return nil
}

func (p *Processor) flush(allowBlocking bool) error {
	if !allowBlocking && p.Owner() == api.OwnerSuspended {
		return api.ErrWouldBlock
	}
	if !p.resp.Committed() {
		if err := p.prepareResponse(); err != nil {
			return err
		}
	}
	return p.write(flushMessage)
}

// DoWrite sends p as SEND_BODY_CHUNK messages no larger than the packet.
func (p *Processor) DoWrite(b []byte, resp *exchange.Response) (int, error) {
	if !resp.Committed() {
		if err := p.prepareResponse(); err != nil {
			return 0, err
		}
	}
	m := p.responseHeader
	limit := m.Capacity() - protocol.SendHeadLength
	written := 0
	for written < len(b) {
		n := min(len(b)-written, limit)
		m.Reset()
		m.AppendByte(byte(protocol.TypeSendBodyChunk))
		m.AppendBytes(b[written : written+n])
		if err := m.End(); err != nil {
			return written, err
		}
		if err := p.write(m.Bytes()); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}
