//go:build !linux
// +build !linux

// File: endpoint/sockopt_other.go
// Author: momentics <momentics@gmail.com>

package endpoint

import "syscall"

// listenControl ignores ReusePort and DeferAccept off Linux.
func listenControl(Config) func(network, address string, c syscall.RawConn) error {
	return nil
}
