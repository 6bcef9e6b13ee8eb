// Package logging builds the server's logr.Logger on top of zap.
package logging

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels passed to logr's V
const (
	DEFAULT = 0
	VERBOSE = 1
	DEBUG   = 2
	TRACE   = 3
)

// Options configures NewLogger
type Options struct {
	// Level is the logr verbosity: 0 logs info and errors, higher values
	// enable V(n) output.
	Level int
	// Development selects the human-readable console encoder.
	Development bool
}

// NewLogger returns a zap-backed logr.Logger and the underlying zap logger,
// which the caller should Sync before exiting.
func NewLogger(opts Options) (logr.Logger, *zap.Logger, error) {
	if opts.Level < 0 {
		return logr.Discard(), nil, fmt.Errorf("logging: negative verbosity %d", opts.Level)
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	// logr V(n) maps onto zap level -n
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-opts.Level))

	zl, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard(), nil, fmt.Errorf("logging: %w", err)
	}
	return zapr.NewLogger(zl), zl, nil
}

// NewTestLogger creates a development logger that prints everything up to TRACE.
func NewTestLogger() logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-TRACE))
	zl, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}

// Fatal calls logger.Error followed by os.Exit(1).
func Fatal(logger logr.Logger, err error, msg string, keysAndValues ...any) {
	logger.Error(err, msg, keysAndValues...)
	os.Exit(1)
}
