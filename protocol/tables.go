// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Fixed translation tables of the AJP13 compact encodings.

package protocol

import "strings"

// methods is indexed by method code - 1.
var methods = [...]string{
	"OPTIONS",
	"GET",
	"HEAD",
	"POST",
	"PUT",
	"DELETE",
	"TRACE",
	"PROPFIND",
	"PROPPATCH",
	"MKCOL",
	"COPY",
	"MOVE",
	"LOCK",
	"UNLOCK",
	"ACL",
	"REPORT",
	"VERSION-CONTROL",
	"CHECKIN",
	"CHECKOUT",
	"UNCHECKOUT",
	"SEARCH",
	"MKWORKSPACE",
	"UPDATE",
	"LABEL",
	"MERGE",
	"BASELINE-CONTROL",
	"MKACTIVITY",
}

// requestHeaders is indexed by request header code - 1.
var requestHeaders = [...]string{
	"accept",
	"accept-charset",
	"accept-encoding",
	"accept-language",
	"authorization",
	"connection",
	"content-type",
	"content-length",
	"cookie",
	"cookie2",
	"host",
	"pragma",
	"referer",
	"user-agent",
}

// responseHeaders is indexed by response header code - 1.
var responseHeaders = [...]string{
	"Content-Type",
	"Content-Language",
	"Content-Length",
	"Date",
	"Last-Modified",
	"Location",
	"Set-Cookie",
	"Set-Cookie2",
	"Servlet-Engine",
	"Status",
	"WWW-Authenticate",
}

// MethodName translates a method code. ok is false for codes outside the
// table, including MethodStored.
func MethodName(code byte) (name string, ok bool) {
	if code == 0 || int(code) > len(methods) {
		return "", false
	}
	return methods[code-1], true
}

// MethodCode returns the compact code of a method, or 0.
func MethodCode(name string) byte {
	for i, m := range methods {
		if m == name {
			return byte(i + 1)
		}
	}
	return 0
}

// RequestHeaderName translates the low byte of a compact request header code.
func RequestHeaderName(id int) (name string, ok bool) {
	if id <= 0 || id > len(requestHeaders) {
		return "", false
	}
	return requestHeaders[id-1], true
}

// RequestHeaderCode returns the full 0xA0xx code of a request header, or 0.
func RequestHeaderCode(name string) int {
	for i, h := range requestHeaders {
		if strings.EqualFold(h, name) {
			return HeaderCodePrefix | (i + 1)
		}
	}
	return 0
}

// ResponseHeaderName translates the low byte of a compact response header code.
func ResponseHeaderName(id int) (name string, ok bool) {
	if id <= 0 || id > len(responseHeaders) {
		return "", false
	}
	return responseHeaders[id-1], true
}

// ResponseHeaderCode returns the full 0xA0xx code of a response header, or 0
// when the name has to travel as a literal string.
func ResponseHeaderCode(name string) int {
	for i, h := range responseHeaders {
		if strings.EqualFold(h, name) {
			return HeaderCodePrefix | (i + 1)
		}
	}
	return 0
}
