package core

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/blaze/core/http"
	"github.com/searchktools/blaze/core/logging"
	"github.com/searchktools/blaze/core/observability"
	"github.com/searchktools/blaze/core/pools"
	"github.com/searchktools/blaze/core/queue"
	"github.com/searchktools/blaze/core/router"
)

// Options configures an Engine. Zero values select the defaults, except
// QueueCapacity where zero means unbounded.
type Options struct {
	// Workers is the worker thread count; 0 uses runtime.NumCPU.
	Workers int
	// QueueCapacity bounds the admission queue; queue.Unbounded disables the bound.
	QueueCapacity int
	// AdmitBatch caps how many queued connections a worker adopts per loop.
	AdmitBatch int
	// PollInterval bounds the latency of admitting new connections to a busy worker.
	PollInterval time.Duration
	// ReadTimeout fails connections whose request head is not complete in time.
	ReadTimeout time.Duration
	// RequestBufferHint is the initial request buffer reservation.
	RequestBufferHint int
	// MaxRequestBytes caps the request head; 0 leaves it unbounded.
	MaxRequestBytes int
	// ReplyOnError answers malformed requests with 400 before closing.
	ReplyOnError bool

	Logger  logr.Logger
	Metrics *observability.Metrics
}

// Engine accepts connections on a dedicated thread, hands them through the
// admission queue and serves them on the cooperative worker pool.
type Engine struct {
	opts    Options
	log     logr.Logger
	routes  *router.Table
	queue   *queue.Admission[*Conn]
	pool    *pools.WorkerPool
	buffers *pools.BytePool
	metrics *observability.Metrics
	ln      *net.TCPListener

	accepted     atomic.Uint64
	acceptErrors atomic.Uint64
	dropped      atomic.Uint64
}

// NewEngine creates an engine that dispatches through routes
func NewEngine(routes *router.Table, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = max(runtime.NumCPU(), 1)
	}
	if opts.QueueCapacity < 0 {
		opts.QueueCapacity = queue.Unbounded
	}
	if opts.RequestBufferHint <= 0 {
		opts.RequestBufferHint = http.DefaultBufferHint
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}

	e := &Engine{
		opts:    opts,
		log:     opts.Logger.WithName("engine"),
		routes:  routes,
		queue:   queue.New[*Conn](opts.QueueCapacity),
		buffers: pools.NewBytePool(),
		metrics: opts.Metrics,
	}
	e.pool = pools.NewWorkerPool(e, pools.Options{
		Workers:      opts.Workers,
		AdmitBatch:   opts.AdmitBatch,
		PollInterval: opts.PollInterval,
		TaskTimeout:  opts.ReadTimeout,
		Logger:       opts.Logger,
	})

	err := e.metrics.RegisterGauges(observability.Gauges{
		QueueDepth:         func() float64 { return float64(e.queue.Len()) },
		TasksActive:        func() float64 { return float64(e.pool.Stats().TasksActive) },
		BuffersOutstanding: func() float64 { return float64(e.buffers.Outstanding()) },
	})
	if err != nil {
		e.log.V(logging.VERBOSE).Info("Engine gauges not registered", "err", err)
	}
	return e
}

// Listen binds the listening socket
func (e *Engine) Listen(addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	e.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen
func (e *Engine) Addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Serve runs the acceptor and the worker pool until ctx is done. On return
// the listener is closed, every admitted connection has been finished and
// connections still waiting in the queue have been closed.
func (e *Engine) Serve(ctx context.Context) error {
	if e.ln == nil {
		return ErrNotListening
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return e.ln.Close()
	})
	g.Go(func() error {
		return e.acceptLoop(e.ln)
	})
	g.Go(func() error {
		return e.pool.Run(ctx)
	})

	e.log.Info("Server listening", "addr", e.ln.Addr().String(), "workers", e.opts.Workers,
		"queueCapacity", e.opts.QueueCapacity)
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for _, c := range e.queue.Close() {
		e.drop(c)
	}
	e.log.Info("Server stopped", "accepted", e.accepted.Load(), "dropped", e.dropped.Load())
	return err
}

// TryAdmit implements pools.Source
func (e *Engine) TryAdmit() (pools.Task, bool) {
	c, ok := e.queue.TryDequeue()
	if !ok {
		return nil, false
	}
	return e.newTask(c), true
}

// Admit implements pools.Source
func (e *Engine) Admit(ctx context.Context) (pools.Task, error) {
	c, err := e.queue.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) {
			err = pools.ErrSourceClosed
		}
		return nil, err
	}
	return e.newTask(c), nil
}

// Close releases the listener of an engine that will not be served
func (e *Engine) Close() error {
	if e.ln == nil {
		return nil
	}
	err := e.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
