// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-ajp.

package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Common errors used across the library.
var (
	ErrEndpointClosed  = fmt.Errorf("endpoint is closed")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrNotSupported    = fmt.Errorf("operation not supported")

	// ErrWouldBlock is returned by a flush that was not allowed to block
	// while the processor is detached from a worker.
	ErrWouldBlock = fmt.Errorf("flush would block outside of a worker")
	// ErrIllegalOwner reports a processor ownership transition that is not
	// permitted, e.g. handing a pooled processor to the poller.
	ErrIllegalOwner = fmt.Errorf("illegal processor ownership transition")
)

// ErrorCode classifies failures of an AJP exchange.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	// ErrCodeFraming: bad magic, oversized or truncated message.
	ErrCodeFraming
	// ErrCodeFlow: malformed header block or unexpected message type.
	ErrCodeFlow
	// ErrCodeAuth: missing or mismatched shared secret.
	ErrCodeAuth
	// ErrCodeApplication: failure raised by the Adapter.
	ErrCodeApplication
	// ErrCodeIO: socket read/write failure.
	ErrCodeIO
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeFraming:
		return "framing"
	case ErrCodeFlow:
		return "flow"
	case ErrCodeAuth:
		return "auth"
	case ErrCodeApplication:
		return "application"
	case ErrCodeIO:
		return "io"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Err = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the ErrorCode carried by err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if IsSocketError(err) {
		return ErrCodeIO
	}
	return ErrCodeInternal
}

// IsSocketError reports whether err is an expected network condition:
// peer close, reset, broken pipe, deadline expiry or use of a closed socket.
// Such errors are logged at low severity by the connection handler.
func IsSocketError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Code == ErrCodeIO {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}
