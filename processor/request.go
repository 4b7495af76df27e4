// File: processor/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package processor

import (
	"crypto/subtle"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/protocol"
)

// prepareRequest decodes the FORWARD_REQUEST held in requestHeader, whose
// type byte has already been consumed. A returned error means the header
// block is malformed. Authentication and host failures set the response
// status and the error flag instead.
func (p *Processor) prepareRequest() error {
	m := p.requestHeader
	req := p.req

	code, err := m.GetByte()
	if err != nil {
		return err
	}
	if code != protocol.MethodStored {
		name, ok := protocol.MethodName(code)
		if !ok {
			return api.NewError(api.ErrCodeFlow, "unknown method code").WithContext("code", code)
		}
		req.Method = name
	}

	for _, dst := range []*string{&req.Protocol, &req.RequestURI, &req.RemoteAddr, &req.RemoteHost, &req.LocalName} {
		if *dst, err = m.GetString(); err != nil {
			return err
		}
	}
	if req.LocalPort, err = m.GetInt(); err != nil {
		return err
	}
	ssl, err := m.GetByte()
	if err != nil {
		return err
	}
	if ssl != 0 {
		req.Scheme = "https"
		req.Secure = true
	}

	if err := p.decodeHeaders(); err != nil {
		return err
	}
	if err := p.decodeAttributes(); err != nil {
		return err
	}

	if req.ContentLength == 0 {
		p.endOfStream = true
	}

	p.rewriteAbsoluteURI()
	p.parseHost()
	return nil
}

func (p *Processor) decodeHeaders() error {
	m := p.requestHeader
	req := p.req
	count, err := m.GetInt()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		code, err := m.PeekInt()
		if err != nil {
			return err
		}
		var name string
		hid := -1
		if code&0xFF00 == protocol.HeaderCodePrefix {
			m.GetInt()
			hid = code & 0xFF
			n, ok := protocol.RequestHeaderName(hid)
			if !ok {
				return api.NewError(api.ErrCodeFlow, "unknown request header code").WithContext("code", code)
			}
			name = n
		} else if name, err = m.GetString(); err != nil {
			return err
		}
		value, err := m.GetString()
		if err != nil {
			return err
		}
		req.Headers.Add(name, value)

		switch {
		case hid == protocol.ReqHeaderContentLength || hid == -1 && strings.EqualFold(name, "Content-Length"):
			cl, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || cl < 0 {
				return api.NewError(api.ErrCodeFlow, "invalid content length").WithContext("value", value)
			}
			req.ContentLength = cl
		case hid == protocol.ReqHeaderContentType || hid == -1 && strings.EqualFold(name, "Content-Type"):
			req.ContentType = value
		}
	}
	return nil
}

func (p *Processor) decodeAttributes() error {
	m := p.requestHeader
	req := p.req
	secret := false
	for {
		code, err := m.GetByte()
		if err != nil {
			return err
		}
		attr := protocol.ParseAttribute(code)
		if attr == protocol.AttrAreDone {
			break
		}
		switch attr {
		case protocol.AttrReqAttribute:
			n, err := m.GetString()
			if err != nil {
				return err
			}
			v, err := m.GetString()
			if err != nil {
				return err
			}
			req.SetAttribute(n, v)

		case protocol.AttrContext, protocol.AttrServletPath:
			if _, err := m.GetBytes(); err != nil {
				return err
			}

		case protocol.AttrRemoteUser, protocol.AttrAuthType:
			v, err := m.GetString()
			if err != nil {
				return err
			}
			if p.cfg.TrustedAuthentication {
				continue
			}
			if attr == protocol.AttrRemoteUser {
				req.RemoteUser = v
			} else {
				req.AuthType = v
			}

		case protocol.AttrQueryString:
			if req.QueryString, err = m.GetString(); err != nil {
				return err
			}

		case protocol.AttrJvmRoute:
			if req.InstanceID, err = m.GetString(); err != nil {
				return err
			}

		case protocol.AttrSSLCert:
			req.Scheme = "https"
			req.Secure = true
			b, err := m.GetBytes()
			if err != nil {
				return err
			}
			p.certificates = append(p.certificates[:0], b...)

		case protocol.AttrSSLCipher, protocol.AttrSSLSession:
			req.Scheme = "https"
			req.Secure = true
			v, err := m.GetString()
			if err != nil {
				return err
			}
			if attr == protocol.AttrSSLCipher {
				req.SetAttribute(protocol.AttrNameCipherSuite, v)
			} else {
				req.SetAttribute(protocol.AttrNameSSLSession, v)
			}

		case protocol.AttrSSLKeySize:
			n, err := m.GetInt()
			if err != nil {
				return err
			}
			req.SetAttribute(protocol.AttrNameKeySize, n)

		case protocol.AttrStoredMethod:
			if req.Method, err = m.GetString(); err != nil {
				return err
			}

		case protocol.AttrSecret:
			v, err := m.GetBytes()
			if err != nil {
				return err
			}
			if p.cfg.RequiredSecret != "" {
				secret = true
				if subtle.ConstantTimeCompare(v, []byte(p.cfg.RequiredSecret)) != 1 {
					p.reject(403, api.NewError(api.ErrCodeAuth, "mismatched secret"))
				}
			}

		default:
			// unknown codes carry no payload we could skip
		}
	}

	if p.cfg.RequiredSecret != "" && !secret {
		p.reject(403, api.NewError(api.ErrCodeAuth, "missing secret"))
	}
	return nil
}

// rewriteAbsoluteURI turns "http://host:port/path" into "/path" and moves
// the authority into the host header.
func (p *Processor) rewriteAbsoluteURI() {
	uri := p.req.RequestURI
	if len(uri) < 4 || !strings.EqualFold(uri[:4], "http") {
		return
	}
	pos := strings.Index(uri[4:], "://")
	if pos < 0 {
		return
	}
	rest := uri[4+pos+3:]
	host := rest
	if slash := strings.IndexByte(rest, '/'); slash < 0 {
		p.req.RequestURI = "/"
	} else {
		host = rest[:slash]
		p.req.RequestURI = rest[slash:]
	}
	p.req.Headers.Set("host", host)
}

// parseHost derives the server name and port from the host header.
func (p *Processor) parseHost() {
	req := p.req
	host, ok := req.Headers.Get("host")
	if !ok || host == "" {
		req.ServerName = req.LocalName
		req.ServerPort = req.LocalPort
		return
	}

	ipv6 := host[0] == '['
	closed := false
	colon := -1
scan:
	for i := 0; i < len(host); i++ {
		switch host[i] {
		case ']':
			closed = true
		case ':':
			if !ipv6 || closed {
				colon = i
				break scan
			}
		}
	}

	if colon < 0 {
		req.ServerName = host
		if strings.EqualFold(req.Scheme, "https") {
			req.ServerPort = 443
		} else {
			req.ServerPort = 80
		}
		return
	}

	req.ServerName = host[:colon]
	digits := host[colon+1:]
	port := 0
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			p.reject(400, api.NewError(api.ErrCodeFlow, "invalid port in host").WithContext("host", host))
			return
		}
		port = port*10 + int(c-'0')
		if port > 0xFFFF {
			p.reject(400, api.NewError(api.ErrCodeFlow, "port out of range in host").WithContext("host", host))
			return
		}
	}
	if len(digits) == 0 {
		p.reject(400, api.NewError(api.ErrCodeFlow, "empty port in host").WithContext("host", host))
		return
	}
	req.ServerPort = port
}

func (p *Processor) reject(status int, err *api.Error) {
	p.log.Debug("rejecting ajp request",
		zap.String("conn", p.connID),
		zap.Int("status", status),
		zap.Stringer("code", err.Code),
		zap.Error(err))
	p.resp.Status = status
	p.error = true
}
