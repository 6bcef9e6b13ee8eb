// Package api holds the built-in endpoints and the default route table.
package api

import (
	"github.com/go-logr/logr"

	"github.com/searchktools/blaze/core"
	"github.com/searchktools/blaze/core/codec"
	"github.com/searchktools/blaze/core/http"
	"github.com/searchktools/blaze/core/middleware"
	"github.com/searchktools/blaze/core/observability"
	"github.com/searchktools/blaze/core/router"
)

// Greeting is the body of the hello world endpoints
const Greeting = "Hello World!"

// Deps are what the endpoints read from
type Deps struct {
	Logger  logr.Logger
	Metrics *observability.Metrics
	Monitor *observability.PerformanceMonitor
	// Pools reports engine statistics. It may be nil, in which case /stats
	// only carries the monitor snapshot.
	Pools func() core.PoolStats
	// RateLimit caps requests per second across all routes; 0 disables it.
	RateLimit int
}

// Stats is the body of /stats
type Stats struct {
	Pools   *core.PoolStats               `json:"pools,omitempty"`
	Monitor observability.MonitorSnapshot `json:"monitor"`
}

// Routes builds the default route table
func Routes(d Deps) (*router.Table, error) {
	if d.Logger.GetSink() == nil {
		d.Logger = logr.Discard()
	}
	if d.Monitor == nil {
		d.Monitor = observability.NewPerformanceMonitor()
	}

	recorders := []middleware.Recorder{d.Monitor}
	if d.Metrics != nil {
		recorders = append(recorders, d.Metrics)
	}
	p := middleware.NewPipeline(
		middleware.Recovery(d.Logger.WithName("api")),
		middleware.Instrument(recorders...),
		middleware.Logger(d.Logger.WithName("api")),
	)
	if d.RateLimit > 0 {
		p.Use(middleware.RateLimiter(d.RateLimit))
	}

	b := router.NewBuilder()
	p.Handle(b, "/", Hello)
	p.Handle(b, "/hello", Hello)
	p.Handle(b, "/hello/:name", HelloName)
	p.Handle(b, "/echo", Echo)
	p.Handle(b, "/stats", statsEndpoint(d))
	return b.Build()
}

// Hello answers with the greeting
func Hello(_ *http.Request, w http.ResponseWriter, _ router.Params) error {
	return http.WriteString(w, 200, Greeting)
}

// HelloName greets the :name path parameter
func HelloName(_ *http.Request, w http.ResponseWriter, ps router.Params) error {
	name, _ := ps.Get("name")
	return http.WriteString(w, 200, "Hello "+name+"!")
}

// Echo answers with the request line and headers as received
func Echo(req *http.Request, w http.ResponseWriter, _ router.Params) error {
	body := make([]byte, 0, len(req.Raw()))
	body = append(body, req.Method().String()...)
	body = append(body, ' ')
	body = append(body, req.Target()...)
	body = append(body, ' ')
	body = append(body, req.Version()...)
	body = append(body, '\n')
	for i := 0; i < req.NumHeaders(); i++ {
		name, value := req.Header(i)
		body = append(body, name...)
		body = append(body, ": "...)
		body = append(body, value...)
		body = append(body, '\n')
	}
	return http.WriteResponse(w, 200, http.ContentTypeText, body)
}

func statsEndpoint(d Deps) router.Endpoint {
	return func(req *http.Request, w http.ResponseWriter, _ router.Params) error {
		s := Stats{Monitor: d.Monitor.Snapshot()}
		if d.Pools != nil {
			ps := d.Pools()
			s.Pools = &ps
		}
		accept, _ := req.Lookup("Accept")
		return codec.Write(w, 200, codec.Negotiate(accept), s)
	}
}
