package http

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAllocator records every buffer handed out and taken back
type countingAllocator struct {
	gets, puts int
}

func (a *countingAllocator) Get(size int) []byte {
	a.gets++
	return make([]byte, size)
}

func (a *countingAllocator) Put(buf []byte) {
	if buf != nil {
		a.puts++
	}
}

func (a *countingAllocator) outstanding() int { return a.gets - a.puts }

// TestReadFrameHeaderCount tests framing and header counting at the boundaries
func TestReadFrameHeaderCount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		headers int
	}{
		{"zero headers", "GET / HTTP/1.1\r\n\r\n", "GET / HTTP/1.1\r\n\r\n", 0},
		{"one header", "GET /x HTTP/1.1\r\nHost: a\r\n\r\n", "GET /x HTTP/1.1\r\nHost: a\r\n\r\n", 1},
		{"two headers", "GET / HTTP/1.1\r\nHost: a\r\nAccept: */*\r\n\r\n", "GET / HTTP/1.1\r\nHost: a\r\nAccept: */*\r\n\r\n", 2},
		{"body is left behind", "POST / HTTP/1.1\r\nA: 1\r\n\r\nbody", "POST / HTTP/1.1\r\nA: 1\r\n\r\n", 1},
		{"bare lf is not a line", "GET / HTTP/1.1\r\nA: 1\nB: 2\r\n\r\n", "GET / HTTP/1.1\r\nA: 1\nB: 2\r\n\r\n", 1},
		{"empty request line", "\r\n\r\n", "\r\n\r\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := &countingAllocator{}
			frame, err := ReadFrame(strings.NewReader(tt.input), alloc, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(frame.Buf))
			assert.Equal(t, tt.headers, frame.HeaderCount)
			assert.Equal(t, 1, alloc.outstanding())
		})
	}
}

// TestReadFrameManyHeaders tests that the count tracks long header blocks and buffer growth
func TestReadFrameManyHeaders(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET /big HTTP/1.1\r\n")
	for i := 0; i < 500; i++ {
		b.WriteString("X-Filler: 0123456789abcdef\r\n")
	}
	b.WriteString("\r\n")

	alloc := &countingAllocator{}
	frame, err := ReadFrame(bufio.NewReader(iotest.OneByteReader(strings.NewReader(b.String()))), alloc, 64, 0)
	require.NoError(t, err)
	assert.Equal(t, 500, frame.HeaderCount)
	assert.Equal(t, b.String(), string(frame.Buf))
	assert.Equal(t, 1, alloc.outstanding(), "grown buffers must be returned")
}

// TestReadFrameErrors tests truncation and error classification
func TestReadFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		r    io.ByteReader
		max  int
		want error
	}{
		{"empty stream", strings.NewReader(""), 0, ErrTruncated},
		{"partial line", strings.NewReader("GET /x HTT"), 0, ErrTruncated},
		{"missing blank line", strings.NewReader("GET / HTTP/1.1\r\nHost: a\r\n"), 0, ErrTruncated},
		{"io failure", bufio.NewReader(iotest.ErrReader(errors.New("reset by peer"))), 0, &FramingError{Kind: FramingIO}},
		{"deadline", bufio.NewReader(iotest.ErrReader(os.ErrDeadlineExceeded)), 0, ErrTimeout},
		{"too large", strings.NewReader("GET / HTTP/1.1\r\nHost: aaaaaaaaaaaaaaaaaaaa\r\n\r\n"), 20, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := &countingAllocator{}
			_, err := ReadFrame(tt.r, alloc, 0, tt.max)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, alloc.outstanding(), "buffer leaked on failure")
		})
	}
}

// TestFramerCommitChunks tests feeding the scanner in arbitrary chunk sizes
func TestFramerCommitChunks(t *testing.T) {
	input := "GET /x HTTP/1.1\r\nHost: a\r\nAccept: */*\r\n\r\nleftover"
	for _, chunk := range []int{1, 2, 3, 5, 7, 16, len(input)} {
		f := NewFramer(nil, 8, 0)
		rest := input
		var done bool
		for !done && rest != "" {
			spare := f.Spare()
			n := copy(spare, rest[:min(chunk, len(rest))])
			rest = rest[n:]
			var err error
			done, err = f.Commit(n)
			require.NoError(t, err)
		}
		require.True(t, done, "chunk %d", chunk)

		frame, err := f.Detach()
		require.NoError(t, err)
		assert.Equal(t, "GET /x HTTP/1.1\r\nHost: a\r\nAccept: */*\r\n\r\n", string(frame.Buf), "chunk %d", chunk)
		assert.Equal(t, 2, frame.HeaderCount, "chunk %d", chunk)
		assert.Equal(t, len(input)-len(frame.Buf), f.Excess()+len(rest), "chunk %d", chunk)
	}
}

// TestFramerOwnership tests that the buffer leaves the framer exactly once
func TestFramerOwnership(t *testing.T) {
	alloc := &countingAllocator{}
	f := NewFramer(alloc, 0, 0)

	_, err := f.Detach()
	require.ErrorIs(t, err, ErrTruncated)

	for _, c := range []byte("GET / HTTP/1.1\r\n\r\n") {
		_, err := f.feed(c)
		require.NoError(t, err)
	}
	frame, err := f.Detach()
	require.NoError(t, err)
	assert.Equal(t, 0, frame.HeaderCount)

	_, err = f.Detach()
	assert.Error(t, err)

	f.Release()
	assert.Equal(t, 1, alloc.outstanding(), "release after detach must not free the detached buffer")
}

// TestFramerHeaderCountInProgress tests the running count before the terminator
func TestFramerHeaderCountInProgress(t *testing.T) {
	f := NewFramer(nil, 0, 0)
	for _, c := range []byte("GET / HTTP/1.1\r\nA: 1\r\nB: 2\r\n") {
		_, err := f.feed(c)
		require.NoError(t, err)
	}
	assert.False(t, f.Done())
	assert.Equal(t, 2, f.HeaderCount())
	assert.ErrorIs(t, f.Truncated(), ErrTruncated)
}

func BenchmarkReadFrame(b *testing.B) {
	input := "GET /hello HTTP/1.1\r\nHost: localhost\r\nUser-Agent: bench\r\nAccept: */*\r\n\r\n"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		f := NewFramer(nil, 0, 0)
		n := copy(f.Spare(), input)
		if _, err := f.Commit(n); err != nil {
			b.Fatal(err)
		}
	}
}
