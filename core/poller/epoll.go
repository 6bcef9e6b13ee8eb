//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates a new Poller (Linux)
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 256),
	}, nil
}

func epollEvents(in Interest) uint32 {
	// Level-triggered. EPOLLRDHUP only with read interest: a writer parked on
	// a full send buffer must not wake for a peer that merely stopped sending.
	// EPOLLHUP and EPOLLERR are always reported.
	var ev uint32
	if in&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Add adds a file descriptor to the watch list
func (p *EpollPoller) Add(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(in), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify replaces the interest set of a watched descriptor
func (p *EpollPoller) Modify(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(in), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for I/O events
func (p *EpollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	max := len(events)
	if max > len(p.events) {
		max = len(p.events)
	}
	n, err := unix.EpollWait(p.epfd, p.events[:max], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		ev := p.events[i].Events
		events[i] = Event{
			Fd:       int(p.events[i].Fd),
			Readable: ev&unix.EPOLLIN != 0,
			Writable: ev&unix.EPOLLOUT != 0,
			Hangup:   ev&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		}
	}
	return n, nil
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}
