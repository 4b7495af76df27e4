// File: exchange/response.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package exchange

import "net/http"

// OutputBuffer accepts response body bytes.
type OutputBuffer interface {
	DoWrite(p []byte, resp *Response) (int, error)
}

// Response collects status and headers until commit and then streams the
// body through the bound OutputBuffer.
type Response struct {
	Status  int
	Message string
	Headers Headers

	ContentType     string
	ContentLanguage string
	// ContentLength is -1 when unknown.
	ContentLength int64

	committed    bool
	bytesWritten int64
	output       OutputBuffer
	hook         ActionHook
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	r := &Response{}
	r.Recycle()
	return r
}

// Bind attaches the body sink and the action hook.
func (r *Response) Bind(output OutputBuffer, hook ActionHook) {
	r.output = output
	r.hook = hook
}

// Action forwards an action to the owning processor.
func (r *Response) Action(code ActionCode, param any) error {
	if r.hook == nil {
		return ErrUnbound
	}
	return r.hook.Action(code, param)
}

// Committed reports whether the headers have been sent.
func (r *Response) Committed() bool { return r.committed }

// SetCommitted is used by the processor when it sends the headers.
func (r *Response) SetCommitted(v bool) { r.committed = v }

// SetStatus sets the status code. It fails once committed.
func (r *Response) SetStatus(code int) error {
	if r.committed {
		return ErrCommitted
	}
	r.Status = code
	return nil
}

// SetHeader replaces a header before commit.
func (r *Response) SetHeader(name, value string) error {
	if r.committed {
		return ErrCommitted
	}
	r.Headers.Set(name, value)
	return nil
}

// AddHeader appends a header before commit.
func (r *Response) AddHeader(name, value string) error {
	if r.committed {
		return ErrCommitted
	}
	r.Headers.Add(name, value)
	return nil
}

// Write commits the response if needed and writes p as body bytes.
func (r *Response) Write(p []byte) (int, error) {
	if !r.committed {
		if err := r.Action(ActionCommit, nil); err != nil {
			return 0, err
		}
	}
	if r.output == nil {
		return 0, ErrUnbound
	}
	n, err := r.output.DoWrite(p, r)
	r.bytesWritten += int64(n)
	return n, err
}

// WriteString writes s as body bytes.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// BytesWritten returns the number of body bytes accepted so far.
func (r *Response) BytesWritten() int64 { return r.bytesWritten }

// Commit sends the headers without body bytes.
func (r *Response) Commit() error { return r.Action(ActionCommit, nil) }

// Flush commits and pushes an empty body chunk to the web server.
func (r *Response) Flush() error { return r.Action(ActionClientFlush, true) }

// TryFlush is Flush for callers that must not block. It fails with a
// would-block error while the exchange is suspended.
func (r *Response) TryFlush() error { return r.Action(ActionClientFlush, false) }

// Close finishes the response.
func (r *Response) Close() error { return r.Action(ActionClose, nil) }

// SendError replaces status and message before commit.
func (r *Response) SendError(code int, msg string) error {
	if r.committed {
		return ErrCommitted
	}
	r.Status = code
	r.Message = msg
	return nil
}

// Reason returns the custom status message or the standard text.
func (r *Response) Reason() string {
	if r.Message != "" {
		return r.Message
	}
	return http.StatusText(r.Status)
}

// Recycle clears the response for the next exchange. Bindings are kept.
func (r *Response) Recycle() {
	r.Status = http.StatusOK
	r.Message = ""
	r.Headers.Reset()
	r.ContentType = ""
	r.ContentLanguage = ""
	r.ContentLength = -1
	r.committed = false
	r.bytesWritten = 0
}
