// File: exchange/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request is the decoded, HTTP-semantic view of one forwarded request. It is
// owned by a processor and recycled between exchanges.

package exchange

import (
	"io"
	"time"

	"github.com/momentics/hioload-ajp/protocol"
)

// InputBuffer supplies request body chunks. A nil chunk with io.EOF marks the
// end of the body.
type InputBuffer interface {
	DoRead(req *Request) ([]byte, error)
}

// Request carries the request line, connection facts, headers and attributes
// of a forwarded request.
type Request struct {
	Method      string
	Protocol    string
	RequestURI  string
	QueryString string

	RemoteAddr string
	RemoteHost string
	LocalName  string
	LocalAddr  string
	LocalPort  int
	ServerName string
	ServerPort int
	Scheme     string
	Secure     bool

	RemoteUser string
	AuthType   string
	InstanceID string

	// ContentLength is -1 when no length was declared.
	ContentLength int64
	ContentType   string

	Headers Headers

	StartTime time.Time

	attributes map[string]any
	bytesRead  int64
	pending    []byte
	input      InputBuffer
	hook       ActionHook
}

// NewRequest returns an empty request.
func NewRequest() *Request {
	r := &Request{attributes: make(map[string]any)}
	r.Recycle()
	return r
}

// Bind attaches the body source and the action hook.
func (r *Request) Bind(input InputBuffer, hook ActionHook) {
	r.input = input
	r.hook = hook
}

// Action forwards an action to the owning processor.
func (r *Request) Action(code ActionCode, param any) error {
	if r.hook == nil {
		return ErrUnbound
	}
	return r.hook.Action(code, param)
}

// Read reads the request body. It returns io.EOF at the end of the body.
func (r *Request) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.pending) == 0 {
		if r.input == nil {
			return 0, io.EOF
		}
		chunk, err := r.input.DoRead(r)
		if err != nil {
			return 0, err
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	r.bytesRead += int64(n)
	return n, nil
}

// ReplayBody makes b the complete request body, replacing whatever the web
// server would have sent.
func (r *Request) ReplayBody(b []byte) error {
	if err := r.Action(ActionReqSetBodyReplay, b); err != nil {
		return err
	}
	r.pending = nil
	r.bytesRead = 0
	return nil
}

// BytesRead returns the number of body bytes consumed so far.
func (r *Request) BytesRead() int64 { return r.bytesRead }

// SetAttribute stores a named attribute. A nil value removes it.
func (r *Request) SetAttribute(name string, value any) {
	if value == nil {
		delete(r.attributes, name)
		return
	}
	r.attributes[name] = value
}

// Attribute returns a named attribute. The certificate chain is decoded on
// first access.
func (r *Request) Attribute(name string) any {
	v, ok := r.attributes[name]
	if !ok && name == protocol.AttrNameCertificate && r.hook != nil {
		if err := r.hook.Action(ActionReqSSLAttribute, nil); err == nil {
			v = r.attributes[name]
		}
	}
	return v
}

// AttributeNames lists the attributes currently set.
func (r *Request) AttributeNames() []string {
	names := make([]string, 0, len(r.attributes))
	for k := range r.attributes {
		names = append(names, k)
	}
	return names
}

// RemoteHostName returns the remote host, resolving it when the web server
// did not forward one.
func (r *Request) RemoteHostName() string {
	if r.RemoteHost == "" && r.hook != nil {
		_ = r.hook.Action(ActionReqHostAttribute, nil)
	}
	return r.RemoteHost
}

// LocalAddress returns the local address, defaulting it to the local name.
func (r *Request) LocalAddress() string {
	if r.LocalAddr == "" && r.hook != nil {
		_ = r.hook.Action(ActionReqLocalAddrAttribute, nil)
	}
	return r.LocalAddr
}

// Recycle clears the request for the next exchange. Bindings are kept.
func (r *Request) Recycle() {
	r.Method = ""
	r.Protocol = ""
	r.RequestURI = ""
	r.QueryString = ""
	r.RemoteAddr = ""
	r.RemoteHost = ""
	r.LocalName = ""
	r.LocalAddr = ""
	r.LocalPort = 0
	r.ServerName = ""
	r.ServerPort = -1
	r.Scheme = "http"
	r.Secure = false
	r.RemoteUser = ""
	r.AuthType = ""
	r.InstanceID = ""
	r.ContentLength = -1
	r.ContentType = ""
	r.Headers.Reset()
	r.StartTime = time.Time{}
	clear(r.attributes)
	r.bytesRead = 0
	r.pending = nil
}
