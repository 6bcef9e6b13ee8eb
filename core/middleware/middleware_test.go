package middleware

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/blaze/core/http"
	"github.com/searchktools/blaze/core/router"
)

type recorder struct {
	bytes.Buffer
}

func (r *recorder) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}
}

func request(t *testing.T, raw string) *http.Request {
	t.Helper()
	frame, err := http.ReadFrame(strings.NewReader(raw), nil, 0, 0)
	require.NoError(t, err)
	req, err := http.Build(frame, nil)
	require.NoError(t, err)
	t.Cleanup(req.Release)
	return req
}

func ok(req *http.Request, w http.ResponseWriter, ps router.Params) error {
	return http.WriteString(w, 200, "ok")
}

// TestPipelineOrder tests that middlewares run in registration order
func TestPipelineOrder(t *testing.T) {
	var order []int
	trace := func(n int) Middleware {
		return func(route string, next router.Endpoint) router.Endpoint {
			return func(req *http.Request, w http.ResponseWriter, ps router.Params) error {
				order = append(order, n)
				return next(req, w, ps)
			}
		}
	}

	ep := NewPipeline(trace(1), trace(2)).Use(trace(3)).Wrap("/", func(*http.Request, http.ResponseWriter, router.Params) error {
		order = append(order, 4)
		return nil
	})
	require.NoError(t, ep(nil, &recorder{}, nil))
	assert.Equal(t, []int{1, 2, 3, 4}, order)
}

// TestPipelineEmpty tests that an empty pipeline returns the endpoint as is
func TestPipelineEmpty(t *testing.T) {
	w := &recorder{}
	require.NoError(t, NewPipeline().Wrap("/", ok)(nil, w, nil))
	assert.Contains(t, w.String(), "200 OK")
}

// TestRecoveryMiddleware tests panic conversion into an error and a 500 response
func TestRecoveryMiddleware(t *testing.T) {
	var logged []string
	logger := funcr.New(func(prefix, args string) { logged = append(logged, args) }, funcr.Options{})

	ep := NewPipeline(Recovery(logger)).Wrap("/boom", func(*http.Request, http.ResponseWriter, router.Params) error {
		panic("test panic")
	})

	w := &recorder{}
	err := ep(nil, w, nil)
	assert.ErrorIs(t, err, router.ErrEndpointPanic)
	assert.True(t, strings.HasPrefix(w.String(), "HTTP/1.1 500 Internal Server Error\r\n"))
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], `"route"="/boom"`)
}

type observation struct {
	route string
	d     time.Duration
	err   error
}

type fakeRecorder struct {
	seen []observation
}

func (f *fakeRecorder) ObserveRequest(route string, d time.Duration, err error) {
	f.seen = append(f.seen, observation{route, d, err})
}

func TestInstrument(t *testing.T) {
	a, b := &fakeRecorder{}, &fakeRecorder{}
	failure := errors.New("failed")

	p := NewPipeline(Instrument(a, b))
	require.NoError(t, p.Wrap("/ok", ok)(nil, &recorder{}, nil))
	err := p.Wrap("/bad", func(*http.Request, http.ResponseWriter, router.Params) error { return failure })(nil, &recorder{}, nil)
	assert.ErrorIs(t, err, failure)

	for _, r := range []*fakeRecorder{a, b} {
		require.Len(t, r.seen, 2)
		assert.Equal(t, "/ok", r.seen[0].route)
		assert.NoError(t, r.seen[0].err)
		assert.Equal(t, "/bad", r.seen[1].route)
		assert.ErrorIs(t, r.seen[1].err, failure)
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var logged []string
	logger := funcr.New(func(prefix, args string) { logged = append(logged, args) }, funcr.Options{Verbosity: 2})

	req := request(t, "GET /x?y=1 HTTP/1.1\r\nHost: a\r\n\r\n")
	require.NoError(t, NewPipeline(Logger(logger)).Wrap("/x", ok)(req, &recorder{}, nil))
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], `"path"="/x"`)
	assert.Contains(t, logged[0], `"method"="GET"`)

	logged = nil
	require.NoError(t, NewPipeline(Logger(logr.Discard())).Wrap("/x", ok)(req, &recorder{}, nil))
	assert.Empty(t, logged)
}

// TestRateLimiter tests that calls beyond the budget are answered with 429
func TestRateLimiter(t *testing.T) {
	ep := NewPipeline(RateLimiter(2)).Wrap("/", ok)

	for i := 0; i < 2; i++ {
		w := &recorder{}
		require.NoError(t, ep(nil, w, nil))
		assert.Contains(t, w.String(), "200 OK")
	}

	w := &recorder{}
	require.NoError(t, ep(nil, w, nil))
	assert.Contains(t, w.String(), "429 Too Many Requests")
}

func BenchmarkPipeline(b *testing.B) {
	ep := NewPipeline(Instrument(&fakeRecorder{}), Recovery(logr.Discard())).Wrap("/", func(*http.Request, http.ResponseWriter, router.Params) error {
		return nil
	})
	w := &recorder{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ep(nil, w, nil)
	}
}
