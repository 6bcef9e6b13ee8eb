// Package admin serves the operator endpoints beside the engine: Prometheus
// metrics, pool statistics and a health probe. It speaks HTTP/1.1 and h2c.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/searchktools/blaze/core/logging"
)

// StatsSource reports pool statistics as JSON
type StatsSource interface {
	GetPoolStatsJSON() string
}

// Config contains admin server configuration
type Config struct {
	Addr     string
	Gatherer prometheus.Gatherer
	Stats    StatsSource
	Logger   logr.Logger

	MaxConcurrentStreams uint32
	IdleTimeout          time.Duration
	ShutdownTimeout      time.Duration
}

// Server is the admin HTTP server
type Server struct {
	cfg    Config
	log    logr.Logger
	server *http.Server
	ln     net.Listener
}

// NewServer creates a new admin server
func NewServer(cfg Config) *Server {
	if cfg.MaxConcurrentStreams == 0 {
		cfg.MaxConcurrentStreams = 250
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}

	s := &Server{cfg: cfg, log: cfg.Logger.WithName("admin")}

	h2 := &http2.Server{
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		IdleTimeout:          cfg.IdleTimeout,
	}
	s.server = &http.Server{
		Handler:           h2c.NewHandler(s.routes(), h2),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{
		ErrorLog: promLogger{s.log},
	}))
	mux.HandleFunc("GET /debug/pools", func(w http.ResponseWriter, _ *http.Request) {
		if s.cfg.Stats == nil {
			http.Error(w, "no stats source", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s.cfg.Stats.GetPoolStatsJSON()))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Listen binds the admin address
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve serves until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(s.ln) }()
	s.log.Info("Admin server listening", "addr", s.ln.Addr().String(), "protocol", "h2c")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	if serr := <-errc; !errors.Is(serr, http.ErrServerClosed) {
		err = errors.Join(err, serr)
	}
	s.log.V(logging.VERBOSE).Info("Admin server stopped")
	return err
}

// promLogger adapts logr to promhttp's Println logger
type promLogger struct{ log logr.Logger }

func (l promLogger) Println(v ...any) {
	l.log.Error(nil, "Metrics handler error", "detail", v)
}
