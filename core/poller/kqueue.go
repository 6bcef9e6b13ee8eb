//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd     int
	events   []unix.Kevent_t
	interest map[int]Interest
}

// New creates a new Poller (BSD, macOS)
func New() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	return &KqueuePoller{
		kqfd:     kqfd,
		events:   make([]unix.Kevent_t, 256),
		interest: make(map[int]Interest),
	}, nil
}

func (p *KqueuePoller) apply(fd int, from, to Interest) error {
	changes := make([]unix.Kevent_t, 0, 2)
	for _, f := range []struct {
		in     Interest
		filter int
	}{{Readable, unix.EVFILT_READ}, {Writable, unix.EVFILT_WRITE}} {
		var ev unix.Kevent_t
		switch {
		case to&f.in != 0 && from&f.in == 0:
			unix.SetKevent(&ev, fd, f.filter, unix.EV_ADD|unix.EV_ENABLE)
		case to&f.in == 0 && from&f.in != 0:
			unix.SetKevent(&ev, fd, f.filter, unix.EV_DELETE)
		default:
			continue
		}
		changes = append(changes, ev)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

// Add adds a file descriptor to the watch list
func (p *KqueuePoller) Add(fd int, in Interest) error {
	if err := p.apply(fd, 0, in); err != nil {
		return err
	}
	p.interest[fd] = in
	return nil
}

// Modify replaces the interest set of a watched descriptor
func (p *KqueuePoller) Modify(fd int, in Interest) error {
	if err := p.apply(fd, p.interest[fd], in); err != nil {
		return err
	}
	p.interest[fd] = in
	return nil
}

// Remove removes a file descriptor from the watch list
func (p *KqueuePoller) Remove(fd int) error {
	in := p.interest[fd]
	delete(p.interest, fd)
	return p.apply(fd, in, 0)
}

// Wait waits for I/O events
func (p *KqueuePoller) Wait(events []Event, timeoutMs int) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(time.Duration(timeoutMs) * time.Millisecond))
		ts = &t
	}

	max := len(events)
	if max > len(p.events) {
		max = len(p.events)
	}
	n, err := unix.Kevent(p.kqfd, nil, p.events[:max], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		kev := p.events[i]
		events[i] = Event{
			Fd:       int(kev.Ident),
			Readable: kev.Filter == unix.EVFILT_READ,
			Writable: kev.Filter == unix.EVFILT_WRITE,
			Hangup:   kev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0,
		}
	}
	return n, nil
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
