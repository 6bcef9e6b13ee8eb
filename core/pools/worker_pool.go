package pools

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/blaze/core/logging"
	"github.com/searchktools/blaze/core/poller"
)

// Wait tells the worker why a task stopped running
type Wait uint8

const (
	// WaitNone means the task has run to completion.
	WaitNone Wait = iota
	// WaitRead suspends the task until its descriptor is readable.
	WaitRead
	// WaitWrite suspends the task until its descriptor is writable.
	WaitWrite
)

func (w Wait) String() string {
	switch w {
	case WaitNone:
		return "none"
	case WaitRead:
		return "read"
	case WaitWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Task is a suspendable unit of work bound to one nonblocking descriptor.
//
// Resume runs the task until it completes or would block. It returns WaitNone
// with a nil error on success; any error ends the task. Finish is called
// exactly once, on the worker that owns the task, after the descriptor has
// been removed from the worker's poller.
type Task interface {
	Fd() int
	Resume() (Wait, error)
	Finish(err error)
}

// Source hands tasks to workers. Admit blocks; TryAdmit does not.
type Source interface {
	TryAdmit() (Task, bool)
	Admit(ctx context.Context) (Task, error)
}

var (
	// ErrPoolClosed is delivered to tasks still registered when the pool stops.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrSourceClosed is returned by a Source that will never admit again.
	ErrSourceClosed = errors.New("task source closed")
	// ErrTaskPanic wraps a panic recovered from Task.Resume.
	ErrTaskPanic = errors.New("task panicked")
	// ErrDeadlineExceeded is delivered to tasks that outlive TaskTimeout.
	ErrDeadlineExceeded = errors.New("task deadline exceeded")
	// ErrPoolRunning is returned by a second call to Run.
	ErrPoolRunning = errors.New("worker pool already running")
)

// Options configures a WorkerPool
type Options struct {
	// Workers is the number of worker threads; 0 uses runtime.NumCPU.
	Workers int
	// AdmitBatch caps how many queued tasks a worker takes per loop.
	AdmitBatch int
	// PollInterval bounds how long a busy worker waits on its poller before
	// checking the source for new tasks again.
	PollInterval time.Duration
	// TaskTimeout fails tasks that have not completed within it. 0 disables.
	TaskTimeout time.Duration
	// NewPoller overrides the platform poller, mostly for tests.
	NewPoller func() (poller.Poller, error)
	Logger    logr.Logger
}

const (
	defaultAdmitBatch   = 64
	defaultPollInterval = 5 * time.Millisecond
	eventBatch          = 128
)

// WorkerPool runs tasks cooperatively on a fixed set of OS threads.
// Every worker owns a private poller and task table; a task never migrates
// between workers once admitted.
type WorkerPool struct {
	src     Source
	opts    Options
	log     logr.Logger
	workers []*worker
	running atomic.Bool

	// Statistics
	stats struct {
		tasksAdmitted  atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksFailed    atomic.Uint64
		resumes        atomic.Uint64
		panics         atomic.Uint64
	}
}

// slot is a registered task and its poller state
type slot struct {
	task       Task
	fd         int
	interest   poller.Interest
	registered bool
	deadline   time.Time
}

type worker struct {
	id     int
	pool   *WorkerPool
	log    logr.Logger
	poller poller.Poller
	tasks  map[int]*slot
	active atomic.Int64
}

// NewWorkerPool creates a pool that pulls tasks from src. Call Run to start it.
func NewWorkerPool(src Source, opts Options) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.AdmitBatch <= 0 {
		opts.AdmitBatch = defaultAdmitBatch
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.NewPoller == nil {
		opts.NewPoller = poller.New
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	p := &WorkerPool{
		src:     src,
		opts:    opts,
		log:     opts.Logger.WithName("pool"),
		workers: make([]*worker, opts.Workers),
	}
	for i := range p.workers {
		p.workers[i] = &worker{
			id:    i,
			pool:  p,
			log:   p.log.WithValues("worker", i),
			tasks: make(map[int]*slot),
		}
	}
	return p
}

// Run starts every worker and blocks until ctx is done or a worker fails.
// Tasks still registered when Run returns have been finished with ErrPoolClosed.
func (p *WorkerPool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrPoolRunning
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			return w.run(ctx)
		})
	}
	p.log.V(logging.VERBOSE).Info("Worker pool started", "workers", len(p.workers))
	err := g.Wait()
	p.log.V(logging.VERBOSE).Info("Worker pool stopped")
	return err
}

// worker.run is the main loop for a worker thread
func (w *worker) run(ctx context.Context) error {
	// The poller and the tasks it watches belong to this thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pl, err := w.pool.opts.NewPoller()
	if err != nil {
		return fmt.Errorf("worker %d: %w", w.id, err)
	}
	w.poller = pl
	defer func() {
		w.finishAll(ErrPoolClosed)
		pl.Close()
	}()

	events := make([]poller.Event, eventBatch)
	timeoutMs := max(int(w.pool.opts.PollInterval/time.Millisecond), 1)

	for ctx.Err() == nil {
		if len(w.tasks) == 0 {
			// Nothing to poll; sleep on the source
			t, err := w.pool.src.Admit(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
					return nil
				}
				return fmt.Errorf("worker %d: admit: %w", w.id, err)
			}
			w.register(t)
		}

		for i := 0; i < w.pool.opts.AdmitBatch; i++ {
			t, ok := w.pool.src.TryAdmit()
			if !ok {
				break
			}
			w.register(t)
		}

		if len(w.tasks) == 0 {
			continue
		}

		n, err := w.poller.Wait(events, timeoutMs)
		if err != nil {
			return fmt.Errorf("worker %d: poll: %w", w.id, err)
		}
		for _, ev := range events[:n] {
			s, ok := w.tasks[ev.Fd]
			if !ok {
				continue
			}
			wait, err := w.resume(s.task)
			w.settle(s, wait, err)
		}

		if w.pool.opts.TaskTimeout > 0 {
			w.sweep(time.Now())
		}
	}
	return nil
}

// register adopts a newly admitted task and runs it once right away
func (w *worker) register(t Task) {
	w.pool.stats.tasksAdmitted.Add(1)
	w.active.Add(1)

	s := &slot{task: t, fd: t.Fd()}
	if d := w.pool.opts.TaskTimeout; d > 0 {
		s.deadline = time.Now().Add(d)
	}
	w.log.V(logging.TRACE).Info("Task admitted", "fd", s.fd)

	wait, err := w.resume(t)
	w.settle(s, wait, err)
}

func (w *worker) resume(t Task) (wait Wait, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.stats.panics.Add(1)
			wait, err = WaitNone, fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	w.pool.stats.resumes.Add(1)
	return t.Resume()
}

// settle suspends the task on the requested readiness or finishes it
func (w *worker) settle(s *slot, wait Wait, err error) {
	if err != nil || wait == WaitNone {
		w.finish(s, err)
		return
	}

	in := poller.Readable
	if wait == WaitWrite {
		in = poller.Writable
	}
	switch {
	case !s.registered:
		err = w.poller.Add(s.fd, in)
		if err == nil {
			s.registered = true
			w.tasks[s.fd] = s
		}
	case s.interest != in:
		err = w.poller.Modify(s.fd, in)
	}
	if err != nil {
		w.finish(s, fmt.Errorf("poller interest %s: %w", wait, err))
		return
	}
	s.interest = in
}

func (w *worker) finish(s *slot, err error) {
	if s.registered {
		if rerr := w.poller.Remove(s.fd); rerr != nil {
			w.log.V(logging.DEBUG).Info("Poller remove failed", "fd", s.fd, "err", rerr)
		}
		delete(w.tasks, s.fd)
		s.registered = false
	}
	w.active.Add(-1)
	if err != nil {
		w.pool.stats.tasksFailed.Add(1)
	} else {
		w.pool.stats.tasksCompleted.Add(1)
	}

	defer func() {
		if r := recover(); r != nil {
			w.pool.stats.panics.Add(1)
			w.log.Error(fmt.Errorf("%w: %v", ErrTaskPanic, r), "Task finish panicked", "fd", s.fd)
		}
	}()
	s.task.Finish(err)
}

// sweep fails every task whose deadline has passed
func (w *worker) sweep(now time.Time) {
	for _, s := range w.tasks {
		if !s.deadline.IsZero() && now.After(s.deadline) {
			w.finish(s, ErrDeadlineExceeded)
		}
	}
}

func (w *worker) finishAll(err error) {
	for _, s := range w.tasks {
		w.finish(s, err)
	}
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	stats := WorkerPoolStats{
		NumWorkers:     len(p.workers),
		TasksAdmitted:  p.stats.tasksAdmitted.Load(),
		TasksCompleted: p.stats.tasksCompleted.Load(),
		TasksFailed:    p.stats.tasksFailed.Load(),
		Resumes:        p.stats.resumes.Load(),
		Panics:         p.stats.panics.Load(),
		Workers:        make([]WorkerStats, len(p.workers)),
	}
	for i, w := range p.workers {
		active := w.active.Load()
		stats.Workers[i] = WorkerStats{ID: w.id, Active: active}
		stats.TasksActive += active
	}
	return stats
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int           `json:"num_workers"`
	TasksAdmitted  uint64        `json:"tasks_admitted"`
	TasksCompleted uint64        `json:"tasks_completed"`
	TasksFailed    uint64        `json:"tasks_failed"`
	TasksActive    int64         `json:"tasks_active"`
	Resumes        uint64        `json:"resumes"`
	Panics         uint64        `json:"panics"`
	Workers        []WorkerStats `json:"workers"`
}

// WorkerStats is the load of a single worker
type WorkerStats struct {
	ID     int   `json:"id"`
	Active int64 `json:"active"`
}
