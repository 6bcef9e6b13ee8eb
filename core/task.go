package core

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/blaze/core/http"
	"github.com/searchktools/blaze/core/logging"
	"github.com/searchktools/blaze/core/observability"
	"github.com/searchktools/blaze/core/pools"
	"github.com/searchktools/blaze/core/router"
)

type phase uint8

const (
	phaseFraming phase = iota
	phaseFlushing
)

// connTask drives one connection through read, frame, parse, dispatch and
// respond. Its suspended state holds nothing tied to a thread, so it can be
// resumed on any worker.
type connTask struct {
	e      *Engine
	conn   *Conn
	framer *http.Framer
	phase  phase
	// result is returned once the response has been flushed
	result error
	start  time.Time
}

func (e *Engine) newTask(c *Conn) *connTask {
	c.setState(StateFraming)
	return &connTask{
		e:      e,
		conn:   c,
		framer: http.NewFramer(e.buffers, e.opts.RequestBufferHint, e.opts.MaxRequestBytes),
		start:  time.Now(),
	}
}

func (t *connTask) Fd() int { return t.conn.fd }

// Resume implements pools.Task
func (t *connTask) Resume() (pools.Wait, error) {
	if t.phase == phaseFraming {
		wait, err := t.frame()
		if err != nil {
			if !t.reply(err) {
				return pools.WaitNone, err
			}
			t.result = err
		} else if wait != pools.WaitNone {
			return wait, nil
		} else {
			t.dispatch()
		}
		t.phase = phaseFlushing
	}

	done, err := t.conn.flush()
	if err != nil {
		return pools.WaitNone, errors.Join(t.result, fmt.Errorf("write response: %w", err))
	}
	if !done {
		return pools.WaitWrite, nil
	}
	return pools.WaitNone, t.result
}

// frame reads until the request head is complete or the socket would block
func (t *connTask) frame() (pools.Wait, error) {
	for {
		n, err := t.conn.read(t.framer.Spare())
		switch {
		case err == unix.EAGAIN:
			return pools.WaitRead, nil
		case err != nil:
			return pools.WaitNone, &http.FramingError{Kind: http.FramingIO, Read: t.framer.Len(), Err: err}
		case n == 0:
			return pools.WaitNone, t.framer.Truncated()
		}

		done, err := t.framer.Commit(n)
		if err != nil {
			return pools.WaitNone, err
		}
		if done {
			return pools.WaitNone, nil
		}
	}
}

// dispatch builds the request view, routes it and runs the endpoint. The view
// is released before dispatch returns; only the buffered response survives.
func (t *connTask) dispatch() {
	frame, err := t.framer.Detach()
	if err != nil {
		t.result = err
		return
	}
	req, err := http.Build(frame, t.e.buffers)
	if err != nil {
		t.result = err
		t.reply(err)
		return
	}
	defer req.Release()
	t.conn.setState(StateParsed)

	ep, ps, ok := t.e.routes.Route(req.Path())
	t.conn.setState(StateDispatching)
	if !ok {
		_ = http.WriteError(t.conn, 404)
		t.result = &DispatchError{Path: string(req.Path()), Err: ErrNoRoute}
		return
	}
	if err := invoke(ep, req, t.conn, ps); err != nil {
		t.result = &DispatchError{Path: string(req.Path()), Err: err}
	}
}

func invoke(ep router.Endpoint, req *http.Request, w http.ResponseWriter, ps router.Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEndpointPanic, r)
		}
	}()
	return ep(req, w, ps)
}

// reply queues an error response for framing and parse failures when the
// engine is configured to answer them. It reports whether one was queued.
func (t *connTask) reply(err error) bool {
	if !t.e.opts.ReplyOnError {
		return false
	}
	var fe *http.FramingError
	var pe *http.ParseError
	switch {
	case errors.As(err, &pe):
		return http.WriteError(t.conn, 400) == nil
	case errors.As(err, &fe) && fe.Kind == http.FramingTooLarge:
		return http.WriteError(t.conn, 431) == nil
	}
	return false
}

// Finish implements pools.Task. It is the single exit of every connection:
// buffers go back to the pool, the socket is closed and the outcome reported.
func (t *connTask) Finish(err error) {
	if errors.Is(err, pools.ErrDeadlineExceeded) && t.phase == phaseFraming {
		err = &http.FramingError{Kind: http.FramingTimeout, Read: t.framer.Len(), Err: err}
	}
	t.framer.Release()
	outcome := t.e.record(err)
	if cerr := t.conn.Close(); cerr != nil {
		t.e.log.V(logging.DEBUG).Info("Close failed", "conn", t.conn.id, "err", cerr)
	}

	log := t.e.log.WithValues("conn", t.conn.id, "remote", t.conn.remote, "outcome", outcome)
	// bytes after the head (a body or a pipelined request) are never served
	if n := t.framer.Excess(); n > 0 {
		log.V(logging.TRACE).Info("Discarded bytes past request head", "excess", n)
	}
	if err != nil {
		log.Error(err, "Connection failed", "kind", errorKind(err))
		return
	}
	log.V(logging.TRACE).Info("Connection served", "duration", time.Since(t.start))
}

// record counts err under its outcome and kind
func (e *Engine) record(err error) string {
	var (
		fe *http.FramingError
		pe *http.ParseError
		de *DispatchError
	)
	outcome := observability.OutcomeAborted
	switch {
	case err == nil:
		outcome = observability.OutcomeOK
	case errors.As(err, &fe):
		outcome = observability.OutcomeFramingError
		e.metrics.FramingError(fe.Kind.String())
	case errors.As(err, &pe):
		outcome = observability.OutcomeParseError
		e.metrics.ParseError(pe.Kind.String())
	case errors.As(err, &de) && errors.Is(de.Err, ErrNoRoute):
		outcome = observability.OutcomeNoRoute
	case errors.As(err, &de):
		outcome = observability.OutcomeEndpointError
	}
	e.metrics.RequestDone(outcome)
	return outcome
}

// errorKind names the failure for logs
func errorKind(err error) string {
	var (
		fe *http.FramingError
		pe *http.ParseError
	)
	switch {
	case errors.As(err, &fe):
		return "framing/" + fe.Kind.String()
	case errors.As(err, &pe):
		return "parse/" + pe.Kind.String()
	case errors.Is(err, ErrNoRoute):
		return "dispatch/no_route"
	case errors.Is(err, ErrEndpointPanic):
		return "dispatch/panic"
	case errors.As(err, new(*DispatchError)):
		return "dispatch/endpoint"
	case errors.Is(err, pools.ErrPoolClosed):
		return "shutdown"
	case errors.Is(err, pools.ErrDeadlineExceeded):
		return "timeout"
	case errors.Is(err, pools.ErrTaskPanic):
		return "panic"
	default:
		return "io"
	}
}
