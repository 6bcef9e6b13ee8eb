package http

import (
	"errors"
	"io"
	"os"
)

// DefaultBufferHint is the capacity reserved for a request buffer before the first read.
// It is a hint, not a cap: the buffer grows while framing.
const DefaultBufferHint = 4000

var (
	crlf     = []byte("\r\n")
	crlfcrlf = []byte("\r\n\r\n")
)

// Allocator supplies and takes back request buffers.
// Get must return a slice whose capacity is at least size.
type Allocator interface {
	Get(size int) []byte
	Put(buf []byte)
}

type heapAllocator struct{}

func (heapAllocator) Get(size int) []byte { return make([]byte, size) }
func (heapAllocator) Put([]byte)          {}

// HeapAllocator allocates from the Go heap and drops released buffers on the floor
var HeapAllocator Allocator = heapAllocator{}

// Frame is a completely framed request head.
type Frame struct {
	// Buf holds exactly the bytes up to and including the CR LF CR LF terminator.
	Buf []byte
	// HeaderCount is the number of lines strictly between the request line and the blank line.
	HeaderCount int
}

// Framer incrementally scans a byte stream for the end of an HTTP request head.
//
// Bytes are examined one at a time. Every CR LF tail ends a line, and the
// CR LF CR LF tail ends the head. The request line and the blank line are both
// CR LF terminated, so the header count is the line count minus two.
type Framer struct {
	alloc  Allocator
	buf    []byte
	max    int
	lines  int
	excess int
	done   bool
	owned  bool
}

// NewFramer reserves a buffer of at least hint bytes from alloc.
// A max of 0 leaves the request head unbounded.
func NewFramer(alloc Allocator, hint, max int) *Framer {
	if alloc == nil {
		alloc = HeapAllocator
	}
	if hint <= 0 {
		hint = DefaultBufferHint
	}
	return &Framer{
		alloc: alloc,
		buf:   alloc.Get(hint)[:0],
		max:   max,
		owned: true,
	}
}

// Spare returns the unused capacity of the request buffer, growing it when full.
// Callers read into Spare and report the count with Commit.
func (f *Framer) Spare() []byte {
	if len(f.buf) == cap(f.buf) {
		f.grow()
	}
	spare := f.buf[len(f.buf):cap(f.buf)]
	if f.max > 0 && len(f.buf)+len(spare) > f.max+1 {
		// one byte past max is enough to detect overflow
		spare = spare[:f.max+1-len(f.buf)]
	}
	return spare
}

func (f *Framer) grow() {
	size := 2 * cap(f.buf)
	if size == 0 {
		size = DefaultBufferHint
	}
	next := f.alloc.Get(size)[:len(f.buf)]
	copy(next, f.buf)
	f.alloc.Put(f.buf)
	f.buf = next
}

// Commit scans the n bytes most recently read into Spare.
// It reports true once the terminator is seen; bytes after it are discarded.
func (f *Framer) Commit(n int) (bool, error) {
	if f.done {
		f.excess += n
		return true, nil
	}
	start := len(f.buf)
	f.buf = f.buf[:start+n]
	for i := start; i < start+n; i++ {
		if f.max > 0 && i+1 > f.max {
			return false, &FramingError{Kind: FramingTooLarge, Read: i + 1}
		}
		if f.step(i + 1) {
			f.excess += start + n - (i + 1)
			f.buf = f.buf[:i+1]
			return true, nil
		}
	}
	return false, nil
}

// feed appends a single byte and reports whether the head is complete.
func (f *Framer) feed(c byte) (bool, error) {
	spare := f.Spare()
	spare[0] = c
	return f.Commit(1)
}

// step inspects the buffer as if it were n bytes long.
func (f *Framer) step(n int) bool {
	b := f.buf[:n]
	if n >= 2 && b[n-2] == '\r' && b[n-1] == '\n' {
		f.lines++
	}
	if n < 4 {
		return false
	}
	if b[n-4] == '\r' && b[n-3] == '\n' && b[n-2] == '\r' && b[n-1] == '\n' {
		f.done = true
	}
	return f.done
}

// Done reports whether the terminator has been seen.
func (f *Framer) Done() bool { return f.done }

// Len returns the number of bytes buffered so far.
func (f *Framer) Len() int { return len(f.buf) }

// Excess returns how many bytes past the terminator were read and dropped.
func (f *Framer) Excess() int { return f.excess }

// HeaderCount returns the number of header lines seen so far.
func (f *Framer) HeaderCount() int {
	// the request line is always counted; the blank line only once done
	n := f.lines - 1
	if f.done {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// Truncated builds the error reported when the stream ends before the terminator.
func (f *Framer) Truncated() error {
	return &FramingError{Kind: FramingTruncated, Read: len(f.buf)}
}

// Detach hands the completed frame over to the caller. The framer no longer
// owns the buffer afterwards and Release becomes a no-op.
func (f *Framer) Detach() (Frame, error) {
	if !f.done {
		return Frame{}, f.Truncated()
	}
	if !f.owned {
		return Frame{}, errors.New("http: frame already detached")
	}
	f.owned = false
	fr := Frame{Buf: f.buf, HeaderCount: f.HeaderCount()}
	f.buf = nil
	return fr, nil
}

// Release returns a buffer that was never detached to the allocator.
func (f *Framer) Release() {
	if !f.owned {
		return
	}
	f.owned = false
	f.alloc.Put(f.buf)
	f.buf = nil
}

// ReadFrame pulls bytes from r one at a time until the head is complete.
// Any bytes r holds past the terminator are left unread.
func ReadFrame(r io.ByteReader, alloc Allocator, hint, max int) (Frame, error) {
	f := NewFramer(alloc, hint, max)
	for {
		c, err := r.ReadByte()
		if err != nil {
			read := f.Len()
			f.Release()
			switch {
			case errors.Is(err, io.EOF):
				return Frame{}, &FramingError{Kind: FramingTruncated, Read: read}
			case errors.Is(err, os.ErrDeadlineExceeded):
				return Frame{}, &FramingError{Kind: FramingTimeout, Read: read, Err: err}
			default:
				return Frame{}, &FramingError{Kind: FramingIO, Read: read, Err: err}
			}
		}
		done, err := f.feed(c)
		if err != nil {
			f.Release()
			return Frame{}, err
		}
		if done {
			return f.Detach()
		}
	}
}
