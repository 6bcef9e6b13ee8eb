// Package poller wraps the kernel readiness notification facility used by
// each worker: epoll on Linux, kqueue on the BSDs and macOS.
package poller

import "errors"

// Interest selects which readiness a descriptor is watched for
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is a readiness notification for one descriptor
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Hangup is set when the peer closed or the descriptor is in error.
	// The owner should still attempt its pending operation to learn the cause.
	Hangup bool
}

// ErrUnsupported is returned by New on platforms without a poller implementation
var ErrUnsupported = errors.New("poller: unsupported platform")

// Poller is the I/O multiplexing interface. A Poller is owned by a single
// goroutine and is not safe for concurrent use.
type Poller interface {
	Add(fd int, in Interest) error
	Modify(fd int, in Interest) error
	Remove(fd int) error
	// Wait blocks for at most timeoutMs milliseconds (-1 blocks indefinitely)
	// and fills events, returning how many were filled.
	Wait(events []Event, timeoutMs int) (int, error)
	Close() error
}
