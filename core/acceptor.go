package core

import (
	"errors"
	"net"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/blaze/core/logging"
	"github.com/searchktools/blaze/core/queue"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptLoop runs on its own OS thread until the listener is closed.
// Every accepted connection is detached from the Go runtime and enqueued;
// accept failures are logged and retried with backoff.
func (e *Engine) acceptLoop(ln *net.TCPListener) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var delay time.Duration
	for {
		tc, err := ln.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.acceptErrors.Add(1)
			e.metrics.AcceptError()

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			e.log.Error(&AcceptError{Op: "accept", Err: err}, "Accept error", "retry", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		c, err := detach(tc)
		if err != nil {
			e.acceptErrors.Add(1)
			e.metrics.AcceptError()
			e.log.Error(err, "Accept error")
			continue
		}
		e.accepted.Add(1)
		e.metrics.ConnectionAccepted()
		e.enqueue(c)
	}
}

// detach moves the socket out of the runtime poller into a raw nonblocking
// descriptor owned by the returned Conn
func detach(tc *net.TCPConn) (*Conn, error) {
	remote := tc.RemoteAddr()
	defer tc.Close()

	raw, err := tc.SyscallConn()
	if err != nil {
		return nil, &AcceptError{Op: "syscall conn", Err: err}
	}
	fd := -1
	var dupErr error
	if err := raw.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	}); err != nil {
		return nil, &AcceptError{Op: "control", Err: err}
	}
	if dupErr != nil {
		return nil, &AcceptError{Op: "dup", Err: dupErr}
	}

	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &AcceptError{Op: "set nonblock", Err: err}
	}
	// Disable Nagle's algorithm; responses are written in one piece
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	return newConn(fd, remote), nil
}

// enqueue hands c to the workers, closing it if the queue refuses
func (e *Engine) enqueue(c *Conn) {
	c.setState(StateQueued)
	err := e.queue.Enqueue(c)
	if err == nil {
		return
	}

	e.drop(c)
	if errors.Is(err, queue.ErrQueueFull) {
		e.log.Error(err, "Connection dropped", "conn", c.id, "remote", c.remote, "depth", e.queue.Len())
		return
	}
	e.log.V(logging.VERBOSE).Info("Connection dropped", "conn", c.id, "remote", c.remote, "err", err)
}

func (e *Engine) drop(c *Conn) {
	e.dropped.Add(1)
	e.metrics.ConnectionDropped()
	_ = c.Close()
}
