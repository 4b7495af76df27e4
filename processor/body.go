// File: processor/body.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request body flow control. The web server pushes the first chunk after a
// FORWARD_REQUEST with a positive Content-Length; every further chunk is
// pulled with GET_BODY_CHUNK.

package processor

import (
	"io"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/exchange"
	"github.com/momentics/hioload-ajp/protocol"
)

// DoRead returns the next body chunk. The chunk aliases the body message and
// is valid until the next call.
func (p *Processor) DoRead(req *exchange.Request) ([]byte, error) {
	if p.endOfStream {
		return nil, io.EOF
	}
	if p.first && req.ContentLength > 0 {
		ok, err := p.receive()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	} else if p.empty {
		ok, err := p.refill()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, io.EOF
		}
	}
	p.empty = true
	return p.bodyBytes, nil
}

// receive reads one body message. It reports false for an empty chunk.
func (p *Processor) receive() (bool, error) {
	p.first = false
	if p.conn == nil {
		return false, p.fail(api.ErrEndpointClosed)
	}
	p.setReadDeadline(p.cfg.SoTimeout)
	if err := protocol.ReadMessage(p.conn, p.body); err != nil {
		return false, p.fail(err)
	}
	if p.body.Len() == 0 {
		return false, nil
	}
	n, err := p.body.PeekInt()
	if err != nil {
		return false, p.fail(err)
	}
	if n == 0 {
		return false, nil
	}
	b, err := p.body.GetBodyBytes()
	if err != nil {
		return false, p.fail(err)
	}
	p.bodyBytes = b
	p.empty = false
	return true, nil
}

// refill asks the web server for more body bytes.
func (p *Processor) refill() (bool, error) {
	if p.replay {
		p.endOfStream = true
	}
	if p.endOfStream || p.finished {
		return false, nil
	}
	if err := p.write(p.getBodyMessage); err != nil {
		return false, err
	}
	more, err := p.receive()
	if err != nil {
		return false, err
	}
	if !more {
		p.endOfStream = true
	}
	return more, nil
}
