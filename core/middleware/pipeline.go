// Package middleware wraps router endpoints with cross-cutting behaviour.
package middleware

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/searchktools/blaze/core/http"
	"github.com/searchktools/blaze/core/logging"
	"github.com/searchktools/blaze/core/router"
)

// Middleware decorates the endpoint registered for route
type Middleware func(route string, next router.Endpoint) router.Endpoint

// Pipeline is an ordered middleware chain
type Pipeline struct {
	handlers []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline(mw ...Middleware) *Pipeline {
	p := &Pipeline{handlers: make([]Middleware, 0, 8)}
	return p.Use(mw...)
}

// Use appends middlewares to the pipeline
func (p *Pipeline) Use(mw ...Middleware) *Pipeline {
	p.handlers = append(p.handlers, mw...)
	return p
}

// Wrap applies the pipeline to ep. The first middleware added runs outermost.
func (p *Pipeline) Wrap(route string, ep router.Endpoint) router.Endpoint {
	for i := len(p.handlers) - 1; i >= 0; i-- {
		ep = p.handlers[i](route, ep)
	}
	return ep
}

// Handle wraps ep and registers it on b
func (p *Pipeline) Handle(b *router.Builder, route string, ep router.Endpoint) {
	b.Handle(route, p.Wrap(route, ep))
}

// Common middleware implementations

// Recovery converts a panicking endpoint into a 500 response and an error
// wrapping router.ErrEndpointPanic.
func Recovery(logger logr.Logger) Middleware {
	return func(route string, next router.Endpoint) router.Endpoint {
		return func(req *http.Request, w http.ResponseWriter, ps router.Params) (err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					buf = buf[:runtime.Stack(buf, false)]
					err = fmt.Errorf("%w: %v", router.ErrEndpointPanic, r)
					logger.Error(err, "Panic recovered", "route", route, "stack", string(buf))
					_ = http.WriteError(w, 500)
				}
			}()
			return next(req, w, ps)
		}
	}
}

// Recorder receives the outcome of every endpoint call
type Recorder interface {
	ObserveRequest(route string, d time.Duration, err error)
}

// Instrument times each call and reports it to every recorder
func Instrument(recorders ...Recorder) Middleware {
	return func(route string, next router.Endpoint) router.Endpoint {
		return func(req *http.Request, w http.ResponseWriter, ps router.Params) error {
			start := time.Now()
			err := next(req, w, ps)
			d := time.Since(start)
			for _, r := range recorders {
				r.ObserveRequest(route, d, err)
			}
			return err
		}
	}
}

// Logger logs every request at DEBUG verbosity
func Logger(logger logr.Logger) Middleware {
	return func(route string, next router.Endpoint) router.Endpoint {
		return func(req *http.Request, w http.ResponseWriter, ps router.Params) error {
			err := next(req, w, ps)
			if log := logger.V(logging.DEBUG); log.Enabled() {
				log.Info("Request served", "method", req.Method().String(), "path", string(req.Path()),
					"route", route, "remote", w.RemoteAddr(), "err", err)
			}
			return err
		}
	}
}

// RateLimiter answers 429 once more than requestsPerSecond calls reach the
// wrapped endpoints within one second. The budget is shared by every route.
func RateLimiter(requestsPerSecond int) Middleware {
	var (
		tokens     = requestsPerSecond
		lastRefill = time.Now()
		mu         sync.Mutex
	)

	allow := func() bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}
		if tokens > 0 {
			tokens--
			return true
		}
		return false
	}

	return func(route string, next router.Endpoint) router.Endpoint {
		return func(req *http.Request, w http.ResponseWriter, ps router.Params) error {
			if !allow() {
				return http.WriteError(w, 429)
			}
			return next(req, w, ps)
		}
	}
}
