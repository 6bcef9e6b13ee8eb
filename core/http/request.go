package http

import (
	"bytes"
	"math"
	"sync/atomic"
)

// Method is a recognised request method
type Method uint8

const (
	MethodUnknown Method = iota
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodOptions
	MethodTrace
	MethodPatch
)

var methodNames = [...]string{
	MethodUnknown: "",
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodConnect: "CONNECT",
	MethodOptions: "OPTIONS",
	MethodTrace:   "TRACE",
	MethodPatch:   "PATCH",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return ""
}

func parseMethod(b []byte) Method {
	for m := MethodGet; m <= MethodPatch; m++ {
		if string(b) == methodNames[m] {
			return m
		}
	}
	return MethodUnknown
}

// span is a half-open byte range into the request buffer
type span struct {
	off, end uint32
}

func (s span) of(buf []byte) []byte {
	return buf[s.off:s.end:s.end]
}

// Header is one slot of the header array, holding offsets of the name and value.
type Header struct {
	name, value span
}

// Request is an immutable parsed view of a request head.
//
// It owns the request buffer and the header slots. Every accessor returns a
// sub-slice of the buffer; callers must copy anything they keep past Release.
// A Request carries no goroutine or thread affinity and may be released on a
// different worker than the one that built it.
type Request struct {
	buf   []byte
	slots []Header

	method  Method
	target  span
	path    span
	query   span
	version span

	alloc    Allocator
	released atomic.Bool
}

// Build parses a framed request head. The returned Request takes ownership of
// frame.Buf; on error the buffer has already been returned to alloc.
func Build(frame Frame, alloc Allocator) (*Request, error) {
	if alloc == nil {
		alloc = HeapAllocator
	}
	r := &Request{
		buf:   frame.Buf,
		slots: make([]Header, frame.HeaderCount),
		alloc: alloc,
	}
	if err := r.parse(); err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}

// spannable reports whether offsets into a buffer of n bytes fit a span
func spannable(n int) bool { return uint64(n) <= math.MaxUint32 }

func (r *Request) parse() error {
	buf := r.buf
	if !spannable(len(buf)) {
		return parseErr(ParseMalformedRequestLine, "request head of %d bytes", len(buf))
	}
	if !bytes.HasSuffix(buf, crlfcrlf) {
		return parseErr(ParseMalformedRequestLine, "missing header terminator")
	}

	lineEnd := bytes.Index(buf, crlf)
	if err := r.parseRequestLine(buf[:lineEnd]); err != nil {
		return err
	}

	pos := lineEnd + 2
	n := 0
	for {
		end := bytes.Index(buf[pos:], crlf)
		if end == 0 {
			break
		}
		end += pos
		if n == len(r.slots) {
			return parseErr(ParseHeaderCountMismatch, "more than %d header lines", len(r.slots))
		}
		h, err := parseHeader(buf, pos, end)
		if err != nil {
			return err
		}
		r.slots[n] = h
		n++
		pos = end + 2
	}
	if n != len(r.slots) {
		return parseErr(ParseHeaderCountMismatch, "%d header lines for %d slots", n, len(r.slots))
	}
	return nil
}

// parseRequestLine expects exactly METHOD SP target SP HTTP/x.y
func (r *Request) parseRequestLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return parseErr(ParseMalformedRequestLine, "no method")
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 <= 0 {
		return parseErr(ParseMalformedRequestLine, "no request target")
	}
	sp2 += sp1 + 1

	version := line[sp2+1:]
	if !validVersion(version) {
		return parseErr(ParseMalformedRequestLine, "bad protocol version %q", version)
	}
	if bytes.IndexAny(line[sp1+1:sp2], " \t\r\n") >= 0 {
		return parseErr(ParseMalformedRequestLine, "whitespace in request target")
	}

	r.method = parseMethod(line[:sp1])
	if r.method == MethodUnknown {
		return parseErr(ParseUnknownMethod, "%q", line[:sp1])
	}

	r.target = span{uint32(sp1 + 1), uint32(sp2)}
	r.path = r.target
	r.query = span{uint32(sp2), uint32(sp2)}
	if q := bytes.IndexByte(line[sp1+1:sp2], '?'); q >= 0 {
		r.path.end = uint32(sp1 + 1 + q)
		r.query = span{uint32(sp1 + 2 + q), uint32(sp2)}
	}
	r.version = span{uint32(sp2 + 1), uint32(len(line))}
	return nil
}

// validVersion accepts HTTP/<digit>.<digit>
func validVersion(v []byte) bool {
	return len(v) == 8 && bytes.HasPrefix(v, []byte("HTTP/")) &&
		isDigit(v[5]) && v[6] == '.' && isDigit(v[7])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// parseHeader splits buf[start:end] as name ":" OWS value OWS
func parseHeader(buf []byte, start, end int) (Header, error) {
	line := buf[start:end]
	if line[0] == ' ' || line[0] == '\t' {
		return Header{}, parseErr(ParseMalformedHeader, "folded header line")
	}
	if bytes.IndexAny(line, "\r\n") >= 0 {
		return Header{}, parseErr(ParseMalformedHeader, "bare line break in header")
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return Header{}, parseErr(ParseMalformedHeader, "no header name in %q", line)
	}
	if bytes.IndexAny(line[:colon], " \t") >= 0 {
		return Header{}, parseErr(ParseMalformedHeader, "whitespace in header name %q", line[:colon])
	}

	vs, ve := colon+1, len(line)
	for vs < ve && (line[vs] == ' ' || line[vs] == '\t') {
		vs++
	}
	for ve > vs && (line[ve-1] == ' ' || line[ve-1] == '\t') {
		ve--
	}
	return Header{
		name:  span{uint32(start), uint32(start + colon)},
		value: span{uint32(start + vs), uint32(start + ve)},
	}, nil
}

// Release gives the buffer back to its allocator and drops the header slots.
// Only the first call has any effect.
func (r *Request) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	buf := r.buf
	r.buf = nil
	r.slots = nil
	r.alloc.Put(buf)
}

// Released reports whether Release has been called.
func (r *Request) Released() bool { return r.released.Load() }

// Method returns the request method.
func (r *Request) Method() Method { return r.method }

// Target returns the raw request target, query included.
func (r *Request) Target() []byte { return r.get(r.target) }

// Path returns the request target up to the first '?'.
func (r *Request) Path() []byte { return r.get(r.path) }

// Query returns the raw query string without the leading '?'.
func (r *Request) Query() []byte { return r.get(r.query) }

// Version returns the protocol version, e.g. "HTTP/1.1".
func (r *Request) Version() []byte { return r.get(r.version) }

// NumHeaders returns the number of header slots.
func (r *Request) NumHeaders() int { return len(r.slots) }

// Header returns the name and value of the i-th header.
func (r *Request) Header(i int) (name, value []byte) {
	if r.buf == nil || i < 0 || i >= len(r.slots) {
		return nil, nil
	}
	h := r.slots[i]
	return h.name.of(r.buf), h.value.of(r.buf)
}

// Lookup returns the value of the first header whose name matches, ignoring case.
func (r *Request) Lookup(name string) ([]byte, bool) {
	if r.buf == nil {
		return nil, false
	}
	for _, h := range r.slots {
		if bytes.EqualFold(h.name.of(r.buf), []byte(name)) {
			return h.value.of(r.buf), true
		}
	}
	return nil, false
}

// Raw returns the whole request head as read from the wire.
func (r *Request) Raw() []byte { return r.buf }

func (r *Request) get(s span) []byte {
	if r.buf == nil {
		return nil
	}
	return s.of(r.buf)
}
