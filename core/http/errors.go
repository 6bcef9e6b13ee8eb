package http

import "fmt"

// FramingKind classifies why a request could not be framed off the wire
type FramingKind uint8

const (
	FramingTruncated FramingKind = iota + 1
	FramingIO
	FramingTimeout
	FramingTooLarge
)

func (k FramingKind) String() string {
	switch k {
	case FramingTruncated:
		return "truncated"
	case FramingIO:
		return "io"
	case FramingTimeout:
		return "timeout"
	case FramingTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// FramingError is returned when the header block terminator was never seen.
type FramingError struct {
	Kind FramingKind
	// Read is the number of bytes buffered when framing stopped.
	Read int
	Err  error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing %s after %d bytes: %v", e.Kind, e.Read, e.Err)
	}
	return fmt.Sprintf("framing %s after %d bytes", e.Kind, e.Read)
}

func (e *FramingError) Unwrap() error { return e.Err }

// Is matches any FramingError of the same kind, so the package sentinels work with errors.Is.
func (e *FramingError) Is(target error) bool {
	t, ok := target.(*FramingError)
	return ok && t.Kind == e.Kind
}

// ParseKind classifies request view build failures
type ParseKind uint8

const (
	ParseMalformedRequestLine ParseKind = iota + 1
	ParseUnknownMethod
	ParseMalformedHeader
	ParseHeaderCountMismatch
)

func (k ParseKind) String() string {
	switch k {
	case ParseMalformedRequestLine:
		return "malformed_request_line"
	case ParseUnknownMethod:
		return "unknown_method"
	case ParseMalformedHeader:
		return "malformed_header"
	case ParseHeaderCountMismatch:
		return "header_count_mismatch"
	default:
		return "unknown"
	}
}

// ParseError is returned by Build when the framed bytes are not a valid request head.
type ParseError struct {
	Kind   ParseKind
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return "parse: " + e.Kind.String()
	}
	return fmt.Sprintf("parse: %s: %s", e.Kind, e.Detail)
}

func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks
var (
	ErrTruncated = &FramingError{Kind: FramingTruncated}
	ErrTimeout   = &FramingError{Kind: FramingTimeout}
	ErrTooLarge  = &FramingError{Kind: FramingTooLarge}

	ErrMalformedRequestLine = &ParseError{Kind: ParseMalformedRequestLine}
	ErrUnknownMethod        = &ParseError{Kind: ParseUnknownMethod}
	ErrMalformedHeader      = &ParseError{Kind: ParseMalformedHeader}
	ErrHeaderCountMismatch  = &ParseError{Kind: ParseHeaderCountMismatch}
)

func parseErr(kind ParseKind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
