// Package app wires configuration, the engine and the admin server into a
// process lifecycle.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/blaze/api"
	"github.com/searchktools/blaze/config"
	"github.com/searchktools/blaze/core"
	"github.com/searchktools/blaze/core/admin"
	"github.com/searchktools/blaze/core/logging"
	"github.com/searchktools/blaze/core/observability"
	"github.com/searchktools/blaze/core/pools"
)

// App is the application instance
type App struct {
	cfg     *config.Config
	log     logr.Logger
	metrics *observability.Metrics
	monitor *observability.PerformanceMonitor
	engine  *core.Engine
	admin   *admin.Server
}

// New creates an application instance serving the built-in routes
func New(cfg *config.Config, logger logr.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     logger,
		metrics: observability.NewMetrics(),
		monitor: observability.NewPerformanceMonitor(),
	}

	routes, err := api.Routes(api.Deps{
		Logger:    logger,
		Metrics:   a.metrics,
		Monitor:   a.monitor,
		Pools:     func() core.PoolStats { return a.engine.GetPoolStats() },
		RateLimit: cfg.RateLimit,
	})
	if err != nil {
		return nil, err
	}

	if gc := cfg.GCConfig(); gc != (pools.GCConfig{}) {
		pools.ApplyGCConfig(gc)
		logger.V(logging.VERBOSE).Info("GC tuned", "percent", gc.Percent, "memoryLimit", gc.MemoryLimit)
	}

	opts := cfg.EngineOptions()
	opts.Logger = logger
	opts.Metrics = a.metrics
	a.engine = core.NewEngine(routes, opts)

	if cfg.AdminAddr != "" {
		a.admin = admin.NewServer(admin.Config{
			Addr:     cfg.AdminAddr,
			Gatherer: a.metrics.Registry(),
			Stats:    a.engine,
			Logger:   logger,
		})
	}
	return a, nil
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Admin returns the admin server, or nil when it is disabled
func (a *App) Admin() *admin.Server {
	return a.admin
}

// Listen binds the engine and admin sockets. Failures are *core.BindError.
func (a *App) Listen() error {
	if err := a.engine.Listen(a.cfg.Addr()); err != nil {
		return err
	}
	if a.admin != nil {
		if err := a.admin.Listen(); err != nil {
			return multierr.Append(&core.BindError{Addr: a.cfg.AdminAddr, Err: err}, a.engine.Close())
		}
	}
	return nil
}

// Run serves until ctx is done or a server fails, then stops the others.
// Every server error is reported.
func (a *App) Run(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g, ctx := errgroup.WithContext(ctx)
	serve := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			err := fn(ctx)
			if err != nil {
				a.log.Error(err, "Server failed", "server", name)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return err
		})
	}

	serve("engine", a.engine.Serve)
	if a.admin != nil {
		serve("admin", a.admin.Serve)
	}
	_ = g.Wait()
	return errs
}

// Run binds and serves cfg until SIGINT or SIGTERM
func Run(ctx context.Context, cfg *config.Config, logger logr.Logger) error {
	a, err := New(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = a.Run(ctx)
	a.log.Info("Shut down", "err", err)
	return err
}
