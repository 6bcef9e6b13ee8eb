package pools

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/searchktools/blaze/core/logging"
	"github.com/searchktools/blaze/core/queue"
)

// queueSource adapts an admission queue to the pool's Source
type queueSource struct {
	q *queue.Admission[Task]
}

func (s queueSource) TryAdmit() (Task, bool) { return s.q.TryDequeue() }

func (s queueSource) Admit(ctx context.Context) (Task, error) {
	t, err := s.q.Dequeue(ctx)
	if errors.Is(err, queue.ErrQueueClosed) {
		err = ErrSourceClosed
	}
	return t, err
}

// fdTask runs resume against a pipe descriptor and reports Finish on done
type fdTask struct {
	fd       int
	resume   func() (Wait, error)
	resumes  atomic.Int32
	finishes atomic.Int32
	done     chan error
}

func newFdTask(fd int, resume func() (Wait, error)) *fdTask {
	return &fdTask{fd: fd, resume: resume, done: make(chan error, 1)}
}

func (t *fdTask) Fd() int { return t.fd }

func (t *fdTask) Resume() (Wait, error) {
	t.resumes.Add(1)
	return t.resume()
}

func (t *fdTask) Finish(err error) {
	if t.finishes.Add(1) == 1 {
		t.done <- err
	}
}

func (t *fdTask) wait(tb testing.TB) error {
	tb.Helper()
	select {
	case err := <-t.done:
		return err
	case <-time.After(5 * time.Second):
		tb.Fatal("task never finished")
		return nil
	}
}

// readTask completes once a byte can be read from fd
func readTask(fd int) *fdTask {
	buf := make([]byte, 16)
	return newFdTask(fd, func() (Wait, error) {
		_, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EAGAIN) {
			return WaitRead, nil
		}
		return WaitNone, err
	})
}

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func startPool(t *testing.T, opts Options) (*WorkerPool, *queue.Admission[Task], func() error) {
	t.Helper()
	if opts.Logger.GetSink() == nil {
		opts.Logger = logging.NewTestLogger()
	}
	q := queue.New[Task](queue.Unbounded)
	pool := NewWorkerPool(queueSource{q}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- pool.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-errc:
			case <-time.After(5 * time.Second):
				t.Fatal("pool did not stop")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return pool, q, stop
}

func TestWorkerPool_Basic(t *testing.T) {
	pool, q, _ := startPool(t, Options{Workers: 4})

	tasks := make([]*fdTask, 100)
	writers := make([]int, len(tasks))
	for i := range tasks {
		r, w := newPipe(t)
		tasks[i] = readTask(r)
		writers[i] = w
		require.NoError(t, q.Enqueue(tasks[i]))
	}
	for _, w := range writers {
		_, err := unix.Write(w, []byte("x"))
		require.NoError(t, err)
	}

	for _, task := range tasks {
		assert.NoError(t, task.wait(t))
	}

	stats := pool.Stats()
	assert.Equal(t, 4, stats.NumWorkers)
	assert.Equal(t, uint64(100), stats.TasksAdmitted)
	assert.Equal(t, uint64(100), stats.TasksCompleted)
	assert.Equal(t, int64(0), stats.TasksActive)
}

// TestWorkerPool_SuspendedTaskDoesNotBlock tests that a task waiting for input
// leaves its worker free to run others
func TestWorkerPool_SuspendedTaskDoesNotBlock(t *testing.T) {
	pool, q, _ := startPool(t, Options{Workers: 1})

	slowR, slowW := newPipe(t)
	slow := readTask(slowR)
	require.NoError(t, q.Enqueue(slow))

	fastR, fastW := newPipe(t)
	_, err := unix.Write(fastW, []byte("x"))
	require.NoError(t, err)
	fast := readTask(fastR)
	require.NoError(t, q.Enqueue(fast))

	assert.NoError(t, fast.wait(t))
	assert.Equal(t, int32(0), slow.finishes.Load())
	assert.Equal(t, int64(1), pool.Stats().TasksActive)

	_, err = unix.Write(slowW, []byte("x"))
	require.NoError(t, err)
	assert.NoError(t, slow.wait(t))
	assert.GreaterOrEqual(t, slow.resumes.Load(), int32(2))
}

func TestWorkerPool_WriteInterest(t *testing.T) {
	_, q, _ := startPool(t, Options{Workers: 1})

	_, w := newPipe(t)
	var task *fdTask
	task = newFdTask(w, func() (Wait, error) {
		if task.resumes.Load() == 1 {
			return WaitWrite, nil
		}
		return WaitNone, nil
	})
	require.NoError(t, q.Enqueue(task))

	assert.NoError(t, task.wait(t))
	assert.Equal(t, int32(2), task.resumes.Load())
}

func TestWorkerPool_Panic(t *testing.T) {
	pool, q, _ := startPool(t, Options{Workers: 1})

	r, _ := newPipe(t)
	bad := newFdTask(r, func() (Wait, error) { panic("boom") })
	require.NoError(t, q.Enqueue(bad))
	assert.ErrorIs(t, bad.wait(t), ErrTaskPanic)

	// the worker survives
	r2, w2 := newPipe(t)
	_, err := unix.Write(w2, []byte("x"))
	require.NoError(t, err)
	good := readTask(r2)
	require.NoError(t, q.Enqueue(good))
	assert.NoError(t, good.wait(t))

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.Panics)
	assert.Equal(t, uint64(1), stats.TasksFailed)
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	_, q, _ := startPool(t, Options{Workers: 1, TaskTimeout: 20 * time.Millisecond, PollInterval: time.Millisecond})

	r, _ := newPipe(t)
	task := readTask(r)
	require.NoError(t, q.Enqueue(task))
	assert.ErrorIs(t, task.wait(t), ErrDeadlineExceeded)
}

func TestWorkerPool_ShutdownFinishesTasks(t *testing.T) {
	pool, q, stop := startPool(t, Options{Workers: 2})

	tasks := make([]*fdTask, 6)
	for i := range tasks {
		r, _ := newPipe(t)
		tasks[i] = readTask(r)
		require.NoError(t, q.Enqueue(tasks[i]))
	}
	require.Eventually(t, func() bool {
		return pool.Stats().TasksActive == int64(len(tasks))
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, stop())
	for _, task := range tasks {
		assert.ErrorIs(t, task.wait(t), ErrPoolClosed)
		assert.Equal(t, int32(1), task.finishes.Load())
	}
}

func TestWorkerPool_SourceClosed(t *testing.T) {
	opts := Options{Workers: 2}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logging.NewTestLogger()
	}
	q := queue.New[Task](queue.Unbounded)
	pool := NewWorkerPool(queueSource{q}, opts)

	errc := make(chan error, 1)
	go func() { errc <- pool.Run(context.Background()) }()
	q.Close()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool kept running after its source closed")
	}
	assert.ErrorIs(t, pool.Run(context.Background()), ErrPoolRunning)
}

func BenchmarkWorkerPool_Tasks(b *testing.B) {
	opts := Options{Workers: 4}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logging.NewTestLogger()
	}
	q := queue.New[Task](queue.Unbounded)
	pool := NewWorkerPool(queueSource{q}, opts)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx) //nolint:errcheck

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		task := newFdTask(0, func() (Wait, error) { return WaitNone, nil })
		if err := q.Enqueue(task); err != nil {
			b.Fatal(err)
		}
		<-task.done
	}
}
