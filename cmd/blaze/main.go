// Command blaze serves the built-in endpoints on the cooperative engine.
//
// Exit status is 0 after a clean shutdown on SIGINT or SIGTERM, 1 when a
// socket cannot be bound or a server fails, and 2 for configuration errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"

	"github.com/searchktools/blaze/app"
	"github.com/searchktools/blaze/config"
	"github.com/searchktools/blaze/core/logging"
)

func main() {
	cfg, err := config.Load(os.Args[1:], logBootstrap())
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "blaze:", err)
		os.Exit(2)
	}

	logger, zl, err := logging.NewLogger(cfg.LoggingOptions())
	if err != nil {
		fmt.Fprintln(os.Stderr, "blaze:", err)
		os.Exit(2)
	}
	defer func() { _ = zl.Sync() }()

	a, err := app.New(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "blaze:", err)
		os.Exit(2)
	}
	if err := a.Listen(); err != nil {
		_ = zl.Sync()
		logging.Fatal(logger, err, "Failed to bind", "addr", cfg.Addr(), "admin", cfg.AdminAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = a.Run(ctx)
	stop()
	if err != nil {
		logger.Error(err, "Server stopped with errors")
		_ = zl.Sync()
		os.Exit(1)
	}
	logger.Info("Server shut down cleanly")
}

// logBootstrap logs configuration loading when BLAZE_LOG_LEVEL asks for it
func logBootstrap() logr.Logger {
	opts := logging.Options{Development: true}
	if v, ok := os.LookupEnv(config.EnvPrefix + "_LOG_LEVEL"); ok {
		_, _ = fmt.Sscan(v, &opts.Level)
	}
	logger, _, _ := logging.NewLogger(opts)
	return logger
}
