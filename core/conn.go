package core

import (
	"errors"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ConnState is the lifecycle position of a connection
type ConnState int32

// Connection states
const (
	StateAccepted ConnState = iota
	StateQueued
	StateFraming
	StateParsed
	StateDispatching
	StateClosed
)

var stateNames = [...]string{
	StateAccepted:    "accepted",
	StateQueued:      "queued",
	StateFraming:     "framing",
	StateParsed:      "parsed",
	StateDispatching: "dispatching",
	StateClosed:      "closed",
}

func (s ConnState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// drainLimit bounds how many unread bytes Close discards before closing
const drainLimit = 64 << 10

// Conn is an accepted connection. It owns a nonblocking socket descriptor
// that is not registered with the Go runtime's network poller.
//
// Writes from endpoints are buffered; the owning task flushes them once the
// endpoint returns. A Conn is used by one worker at a time.
type Conn struct {
	id     uuid.UUID
	fd     int
	remote net.Addr
	state  atomic.Int32

	out  []byte
	sent int
}

func newConn(fd int, remote net.Addr) *Conn {
	return &Conn{
		id:     uuid.New(),
		fd:     fd,
		remote: remote,
	}
}

// ID returns the connection's unique id
func (c *Conn) ID() uuid.UUID { return c.id }

// Fd returns the socket descriptor
func (c *Conn) Fd() int { return c.fd }

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// State returns the current lifecycle state
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

// Write appends p to the outbound buffer.
func (c *Conn) Write(p []byte) (int, error) {
	if c.State() == StateClosed {
		return 0, net.ErrClosed
	}
	c.out = append(c.out, p...)
	return len(p), nil
}

// Buffered returns the number of outbound bytes not yet written to the socket
func (c *Conn) Buffered() int { return len(c.out) - c.sent }

// read reads into p. It returns unix.EAGAIN when no data is available.
func (c *Conn) read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// flush writes buffered output until it is drained or the socket would block
func (c *Conn) flush() (bool, error) {
	for c.sent < len(c.out) {
		n, err := unix.Write(c.fd, c.out[c.sent:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return false, nil
		case err != nil:
			return false, err
		}
		c.sent += n
	}
	return true, nil
}

// Close discards any unread input and closes the socket. Unread input would
// otherwise make the kernel reset the connection and lose the response.
func (c *Conn) Close() error {
	if ConnState(c.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	var scratch [4096]byte
	for drained := 0; drained < drainLimit; {
		n, err := c.read(scratch[:])
		if err != nil || n == 0 {
			break
		}
		drained += n
	}
	c.out = nil
	err := unix.Close(c.fd)
	if errors.Is(err, unix.EBADF) {
		return net.ErrClosed
	}
	return err
}
