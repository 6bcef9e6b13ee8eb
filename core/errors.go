package core

import (
	"errors"
	"fmt"

	"github.com/searchktools/blaze/core/router"
)

// Errors raised at the dispatch boundary
var (
	ErrNoRoute       = router.ErrNoRoute
	ErrEndpointPanic = router.ErrEndpointPanic
	// ErrNotListening is returned by Serve before a successful Listen.
	ErrNotListening = errors.New("engine is not listening")
)

// BindError reports that the listening socket could not be set up.
// It is fatal at startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind %s: %v", e.Addr, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// AcceptError reports a failed accept or a failure to take ownership of the
// accepted socket. The acceptor logs it and carries on.
type AcceptError struct {
	Op  string
	Err error
}

func (e *AcceptError) Error() string { return fmt.Sprintf("accept: %s: %v", e.Op, e.Err) }
func (e *AcceptError) Unwrap() error { return e.Err }

// DispatchError wraps a failure reported by, or on behalf of, an endpoint.
type DispatchError struct {
	Path string
	Err  error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("dispatch %s: %v", e.Path, e.Err) }
func (e *DispatchError) Unwrap() error { return e.Err }
