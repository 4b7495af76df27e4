// File: processor/action.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package processor

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/exchange"
	"github.com/momentics/hioload-ajp/protocol"
)

// lookupTimeout bounds the reverse DNS query of ActionReqHostAttribute.
const lookupTimeout = 5 * time.Second

// Action implements exchange.ActionHook.
func (p *Processor) Action(code exchange.ActionCode, param any) error {
	switch code {
	case exchange.ActionCommit:
		if p.resp.Committed() {
			return nil
		}
		return p.prepareResponse()

	case exchange.ActionClientFlush:
		allow, ok := param.(bool)
		if !ok {
			allow = true
		}
		return p.flush(allow)

	case exchange.ActionClose:
		return p.finish()

	case exchange.ActionReqSSLAttribute:
		return p.decodeCertificates()

	case exchange.ActionReqHostAttribute:
		p.resolveRemoteHost()
		return nil

	case exchange.ActionReqLocalAddrAttribute:
		p.req.LocalAddr = p.req.LocalName
		return nil

	case exchange.ActionReqSetBodyReplay:
		b, ok := param.([]byte)
		if !ok {
			return fmt.Errorf("%w: body replay expects []byte, got %T", api.ErrInvalidArgument, param)
		}
		p.bodyBytes = b
		p.req.ContentLength = int64(len(b))
		p.first = false
		p.empty = false
		p.replay = true
		p.endOfStream = false
		return nil

	case exchange.ActionEventBegin:
		p.event = true
		return nil

	case exchange.ActionEventEnd:
		p.event = false
		return nil

	case exchange.ActionEventSuspend:
		return nil

	case exchange.ActionEventWakeup:
		return p.wakeup()

	case exchange.ActionEventTimeout:
		d, ok := param.(time.Duration)
		if !ok {
			return fmt.Errorf("%w: event timeout expects time.Duration, got %T", api.ErrInvalidArgument, param)
		}
		p.timeout.Store(int64(d))
		return nil
	}
	return fmt.Errorf("%w: action %s", api.ErrNotSupported, code)
}

// decodeCertificates parses the forwarded client chain, PEM or DER, into the
// certificate attribute.
func (p *Processor) decodeCertificates() error {
	if len(p.certificates) == 0 {
		return nil
	}
	var chain []*x509.Certificate
	data := p.certificates
	if bytes.Contains(data, []byte("-----BEGIN")) {
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				p.log.Warn("error processing forwarded certificate",
					zap.String("conn", p.connID), zap.Error(err))
				return err
			}
			chain = append(chain, cert)
		}
	} else {
		certs, err := x509.ParseCertificates(data)
		if err != nil {
			p.log.Warn("error processing forwarded certificate",
				zap.String("conn", p.connID), zap.Error(err))
			return err
		}
		chain = certs
	}
	if len(chain) > 0 {
		p.req.SetAttribute(protocol.AttrNameCertificate, chain)
	}
	return nil
}

// resolveRemoteHost fills the remote host by reverse lookup, falling back to
// the address itself.
func (p *Processor) resolveRemoteHost() {
	req := p.req
	if req.RemoteHost != "" || req.RemoteAddr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, req.RemoteAddr)
	if err != nil || len(names) == 0 {
		req.RemoteHost = req.RemoteAddr
		return
	}
	req.RemoteHost = strings.TrimSuffix(names[0], ".")
}
