package http

import (
	"io"
	"net"
	"strconv"
)

// ResponseWriter is the write side of a connection as seen by an endpoint.
// Writes are buffered and flushed by the connection's task after the endpoint returns.
type ResponseWriter interface {
	io.Writer
	RemoteAddr() net.Addr
}

// Common content types
const (
	ContentTypeText     = "text/plain; charset=utf-8"
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// AppendResponse appends a complete HTTP/1.1 response with a fixed-length body.
// Connections are never reused, so every response carries Connection: close.
func AppendResponse(dst []byte, code int, contentType string, body []byte) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(code), 10)
	dst = append(dst, ' ')
	dst = append(dst, StatusText(code)...)
	dst = append(dst, "\r\n"...)

	if contentType != "" {
		dst = append(dst, "Content-Type: "...)
		dst = append(dst, contentType...)
		dst = append(dst, "\r\n"...)
	}
	dst = append(dst, "Content-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	dst = append(dst, "\r\nConnection: close\r\n\r\n"...)

	return append(dst, body...)
}

// WriteResponse writes a complete response to w.
func WriteResponse(w io.Writer, code int, contentType string, body []byte) error {
	_, err := w.Write(AppendResponse(make([]byte, 0, 128+len(body)), code, contentType, body))
	return err
}

// WriteString writes a plain text response.
func WriteString(w io.Writer, code int, s string) error {
	return WriteResponse(w, code, ContentTypeText, []byte(s))
}

// WriteError writes a plain text response whose body is the status text.
func WriteError(w io.Writer, code int) error {
	return WriteString(w, code, StatusText(code)+"\n")
}

// StatusText returns the reason phrase for the status codes this server emits.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
