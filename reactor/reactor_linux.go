//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor. Registrations are one-shot: a descriptor
// reports at most one readiness event and must be registered again to
// report another.

package reactor

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ajp/api"
)

const watchEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT

// linuxReactor is an epoll-based event reactor.
type linuxReactor struct {
	epfd int

	mu    sync.Mutex
	udata map[int32]uintptr
	raw   []unix.EpollEvent
}

func newReactor() (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &linuxReactor{epfd: epfd, udata: make(map[int32]uintptr)}, nil
}

// Register arms fd for one read or hangup notification.
func (r *linuxReactor) Register(fd uintptr, udata uintptr) error {
	r.mu.Lock()
	r.udata[int32(fd)] = udata
	r.mu.Unlock()

	event := &unix.EpollEvent{Events: watchEvents, Fd: int32(fd)}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), event)
	if errors.Is(err, unix.EEXIST) {
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), event)
	}
	if err != nil {
		r.mu.Lock()
		delete(r.udata, int32(fd))
		r.mu.Unlock()
		return fmt.Errorf("epoll ctl fd %d: %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the watch list.
func (r *linuxReactor) Unregister(fd uintptr) error {
	r.mu.Lock()
	delete(r.udata, int32(fd))
	r.mu.Unlock()
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

// Wait waits up to timeoutMs for readiness and fills events. An interrupted
// wait returns zero events. Wait is not safe for concurrent use.
func (r *linuxReactor) Wait(events []api.Event, timeoutMs int) (int, error) {
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]
	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		var flags uint32
		if raw[i].Events&unix.EPOLLIN != 0 {
			flags |= api.EventRead
		}
		if raw[i].Events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
			flags |= api.EventHangup
		}
		if raw[i].Events&unix.EPOLLERR != 0 {
			flags |= api.EventError
		}
		events[i] = api.Event{
			Fd:       uintptr(raw[i].Fd),
			UserData: r.udata[raw[i].Fd],
			Flags:    flags,
		}
	}
	return n, nil
}

// Close closes the epoll instance.
func (r *linuxReactor) Close() error {
	return unix.Close(r.epfd)
}
