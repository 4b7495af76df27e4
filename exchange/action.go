// File: exchange/action.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package exchange

import "errors"

// ActionCode names a request the Request/Response objects make to the
// processor that owns them.
type ActionCode int

const (
	// ActionCommit sends the response headers if not yet sent.
	ActionCommit ActionCode = iota
	// ActionClientFlush commits and flushes. Param: bool allowBlocking.
	ActionClientFlush
	// ActionClose finishes the response.
	ActionClose
	// ActionReqSSLAttribute decodes the forwarded certificate chain.
	ActionReqSSLAttribute
	// ActionReqHostAttribute resolves the remote host name.
	ActionReqHostAttribute
	// ActionReqLocalAddrAttribute fills the local address.
	ActionReqLocalAddrAttribute
	// ActionReqSetBodyReplay switches the body to in-memory bytes. Param: []byte.
	ActionReqSetBodyReplay
	ActionEventBegin
	ActionEventEnd
	ActionEventSuspend
	// ActionEventWakeup asks the poller to resume the exchange.
	ActionEventWakeup
	// ActionEventTimeout sets the suspend timeout. Param: time.Duration.
	ActionEventTimeout
)

var actionNames = [...]string{
	"commit", "client_flush", "close", "req_ssl_attribute",
	"req_host_attribute", "req_local_addr_attribute", "req_set_body_replay",
	"event_begin", "event_end", "event_suspend", "event_wakeup", "event_timeout",
}

func (c ActionCode) String() string {
	if c < 0 || int(c) >= len(actionNames) {
		return "unknown"
	}
	return actionNames[c]
}

// ActionHook is implemented by the processor bound to an exchange.
type ActionHook interface {
	Action(code ActionCode, param any) error
}

var (
	// ErrUnbound is returned by actions on an exchange with no processor.
	ErrUnbound = errors.New("exchange not bound to a processor")
	// ErrCommitted is returned when modifying a committed response.
	ErrCommitted = errors.New("response already committed")
)
