//go:build linux
// +build linux

// File: endpoint/sockopt_linux.go
// Author: momentics <momentics@gmail.com>
//
// Listener socket options applied before bind.

package endpoint

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// deferAcceptSeconds is how long the kernel holds a connection that has
// sent nothing yet.
const deferAcceptSeconds = 5

func listenControl(cfg Config) func(network, address string, c syscall.RawConn) error {
	if !cfg.ReusePort && !cfg.DeferAccept {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if cfg.ReusePort {
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); opErr != nil {
					return
				}
			}
			if cfg.DeferAccept {
				opErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, deferAcceptSeconds)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
