// Package protocol
// Author: momentics <momentics@gmail.com>
//
// AJP13 wire layer for hioload-ajp.
// Implements the fixed-capacity packet codec, the framing constants and the
// compact code tables for methods, request and response headers.
// See message.go for the codec and tables.go for the translation tables.
package protocol
