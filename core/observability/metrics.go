// Package observability collects server metrics for Prometheus and keeps the
// in-process performance monitor read by the stats endpoint.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "blaze"

// Request outcomes, used as the outcome label of blaze_requests_total
const (
	OutcomeOK            = "ok"
	OutcomeNoRoute       = "no_route"
	OutcomeEndpointError = "endpoint_error"
	OutcomeFramingError  = "framing_error"
	OutcomeParseError    = "parse_error"
	OutcomeAborted       = "aborted"
)

// Metrics owns the server's Prometheus collectors and the registry they live in
type Metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	acceptErrors        prometheus.Counter
	connectionsDropped  prometheus.Counter
	requests            *prometheus.CounterVec
	framingErrors       *prometheus.CounterVec
	parseErrors         *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry, together with the
// standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the acceptor.",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Failed accept calls.",
		}),
		connectionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_dropped_total",
			Help:      "Accepted connections closed without being served because the admission queue refused them or the server stopped.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Connections finished, broken out by outcome.",
		}, []string{"outcome"}),
		framingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "framing_errors_total",
			Help:      "Request heads that could not be framed, by kind.",
		}, []string{"kind"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Framed request heads that failed to parse, by kind.",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Endpoint latency distribution in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"endpoint"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsAccepted,
		m.acceptErrors,
		m.connectionsDropped,
		m.requests,
		m.framingErrors,
		m.parseErrors,
		m.requestDuration,
	)
	return m
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Gauges are sampled at scrape time
type Gauges struct {
	QueueDepth         func() float64
	TasksActive        func() float64
	BuffersOutstanding func() float64
}

// RegisterGauges exposes the sampled gauges. It fails if called twice.
func (m *Metrics) RegisterGauges(g Gauges) error {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"admission_queue_depth", "Connections waiting in the admission queue.", g.QueueDepth},
		{"tasks_active", "Connection tasks registered with a worker.", g.TasksActive},
		{"request_buffers_outstanding", "Request buffers handed out and not yet returned.", g.BuffersOutstanding},
	}
	for _, gauge := range gauges {
		if gauge.fn == nil {
			continue
		}
		c := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      gauge.name,
			Help:      gauge.help,
		}, gauge.fn)
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ConnectionAccepted counts an accepted connection
func (m *Metrics) ConnectionAccepted() { m.connectionsAccepted.Inc() }

// AcceptError counts a failed accept
func (m *Metrics) AcceptError() { m.acceptErrors.Inc() }

// ConnectionDropped counts a connection closed without service
func (m *Metrics) ConnectionDropped() { m.connectionsDropped.Inc() }

// RequestDone counts a finished connection by outcome
func (m *Metrics) RequestDone(outcome string) { m.requests.WithLabelValues(outcome).Inc() }

// FramingError counts a framing failure by kind
func (m *Metrics) FramingError(kind string) { m.framingErrors.WithLabelValues(kind).Inc() }

// ParseError counts a parse failure by kind
func (m *Metrics) ParseError(kind string) { m.parseErrors.WithLabelValues(kind).Inc() }

// ObserveRequest implements middleware.Recorder
func (m *Metrics) ObserveRequest(route string, d time.Duration, err error) {
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}
