// Package config loads the server configuration from defaults, a JSON file,
// BLAZE_* environment variables and command-line flags, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"

	"github.com/searchktools/blaze/core"
	"github.com/searchktools/blaze/core/logging"
	"github.com/searchktools/blaze/core/pools"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "BLAZE"

// Defaults
const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 3333
	DefaultQueueCapacity     = 1024
	DefaultAdmitBatch        = 64
	DefaultPollInterval      = 5 * time.Millisecond
	DefaultRequestBufferHint = 4000
	DefaultMaxRequestBytes   = 1 << 20
)

// Config holds all application configuration.
type Config struct {
	Host string `config:"host" json:"host"`
	Port int    `config:"port" json:"port"`

	Workers           int           `config:"workers" json:"workers"`
	QueueCapacity     int           `config:"queue.capacity" json:"queue_capacity"`
	AdmitBatch        int           `config:"admit.batch" json:"admit_batch"`
	PollInterval      time.Duration `config:"poll.interval" json:"poll_interval"`
	ReadTimeout       time.Duration `config:"read.timeout" json:"read_timeout"`
	RequestBufferHint int           `config:"request.buffer.hint" json:"request_buffer_hint"`
	MaxRequestBytes   int           `config:"max.request.bytes" json:"max_request_bytes"`
	ReplyOnError      bool          `config:"reply.on.error" json:"reply_on_error"`
	RateLimit         int           `config:"rate.limit" json:"rate_limit"`

	GCPercent   int   `config:"gc.percent" json:"gc_percent"`
	MemoryLimit int64 `config:"memory.limit" json:"memory_limit"`

	AdminAddr      string `config:"admin.addr" json:"admin_addr"`
	LogLevel       int    `config:"log.level" json:"log_level"`
	LogDevelopment bool   `config:"log.development" json:"log_development"`

	ConfigFile string `config:"-" json:"-"`
}

// New returns a Config holding the defaults
func New() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		QueueCapacity:     DefaultQueueCapacity,
		AdmitBatch:        DefaultAdmitBatch,
		PollInterval:      DefaultPollInterval,
		RequestBufferHint: DefaultRequestBufferHint,
		MaxRequestBytes:   DefaultMaxRequestBytes,
		LogLevel:          logging.DEFAULT,
	}
}

// flagName maps a config key to its flag
func flagName(key string) string { return strings.ReplaceAll(key, ".", "-") }

// AddFlags binds the Config fields to command-line flags on fs
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "Interface to listen on.")
	fs.IntVarP(&c.Port, "port", "p", c.Port, "TCP port to listen on.")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Worker threads; 0 uses the number of CPUs.")
	fs.IntVar(&c.QueueCapacity, flagName("queue.capacity"), c.QueueCapacity,
		"Connections that may wait for a worker before new ones are refused; 0 is unbounded.")
	fs.IntVar(&c.AdmitBatch, flagName("admit.batch"), c.AdmitBatch,
		"Queued connections a worker adopts per loop iteration.")
	fs.DurationVar(&c.PollInterval, flagName("poll.interval"), c.PollInterval,
		"How long a busy worker waits for readiness before checking the queue.")
	fs.DurationVar(&c.ReadTimeout, flagName("read.timeout"), c.ReadTimeout,
		"Close connections that have not been served in this time; 0 disables the deadline.")
	fs.IntVar(&c.RequestBufferHint, flagName("request.buffer.hint"), c.RequestBufferHint,
		"Initial request buffer size in bytes.")
	fs.IntVar(&c.MaxRequestBytes, flagName("max.request.bytes"), c.MaxRequestBytes,
		"Largest accepted request head in bytes; 0 is unbounded.")
	fs.BoolVar(&c.ReplyOnError, flagName("reply.on.error"), c.ReplyOnError,
		"Answer malformed requests with 400 or 431 instead of closing silently.")
	fs.IntVar(&c.RateLimit, flagName("rate.limit"), c.RateLimit,
		"Requests per second served before answering 429; 0 disables limiting.")
	fs.IntVar(&c.GCPercent, flagName("gc.percent"), c.GCPercent,
		"Garbage collection target percentage; 0 keeps the runtime setting.")
	fs.Int64Var(&c.MemoryLimit, flagName("memory.limit"), c.MemoryLimit,
		"Soft memory limit in bytes; 0 keeps the runtime setting.")
	fs.StringVar(&c.AdminAddr, flagName("admin.addr"), c.AdminAddr,
		"Address of the admin server for /metrics, /debug/pools and /healthz; empty disables it.")
	fs.IntVarP(&c.LogLevel, flagName("log.level"), "v", c.LogLevel, "Log verbosity (0-3).")
	fs.BoolVar(&c.LogDevelopment, flagName("log.development"), c.LogDevelopment,
		"Human-readable console logs instead of JSON.")
	fs.StringVar(&c.ConfigFile, "config-file", c.ConfigFile, "JSON configuration file.")
}

// Load builds the configuration from args and the environment. A nil
// logger discards the load report.
func Load(args []string, logger logr.Logger) (*Config, error) {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	cfg := New()
	fs := pflag.NewFlagSet("blaze", pflag.ContinueOnError)
	cfg.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	m := NewManager()
	if cfg.ConfigFile != "" {
		if err := m.LoadFromJSON(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)

	known := make(map[string]bool)
	for _, key := range TaggedKeys(cfg) {
		known[key] = true
	}
	var unknown []error
	for _, key := range m.Keys(SourceFile) {
		if !known[key] {
			unknown = append(unknown, fmt.Errorf("unknown key %q in %s", key, cfg.ConfigFile))
		}
	}
	if err := errors.Join(unknown...); err != nil {
		return nil, err
	}
	for _, key := range m.Keys(SourceEnv) {
		if !known[key] {
			logger.V(logging.VERBOSE).Info("Ignoring unknown environment variable",
				"name", EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
		}
	}

	err := m.Unmarshal(cfg, func(key string) bool {
		f := fs.Lookup(flagName(key))
		return f != nil && f.Changed
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.V(logging.VERBOSE).Info("Configuration loaded", "file", cfg.ConfigFile,
		"fromFile", m.Keys(SourceFile), "fromEnv", m.Keys(SourceEnv))
	return cfg, nil
}

// Validate checks the Config for invalid values
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid value %d for %q: must be between 0 and 65535", c.Port, "port"))
	}
	for _, nc := range []struct {
		name  string
		value int64
	}{
		{"workers", int64(c.Workers)},
		{"queue-capacity", int64(c.QueueCapacity)},
		{"admit-batch", int64(c.AdmitBatch)},
		{"poll-interval", int64(c.PollInterval)},
		{"read-timeout", int64(c.ReadTimeout)},
		{"request-buffer-hint", int64(c.RequestBufferHint)},
		{"max-request-bytes", int64(c.MaxRequestBytes)},
		{"rate-limit", int64(c.RateLimit)},
		{"gc-percent", int64(c.GCPercent)},
		{"memory-limit", c.MemoryLimit},
	} {
		if nc.value < 0 {
			errs = append(errs, fmt.Errorf("invalid value %d for %q: must be >= 0", nc.value, nc.name))
		}
	}
	if c.LogLevel < 0 {
		errs = append(errs, fmt.Errorf("invalid value %d for %q: must be >= 0", c.LogLevel, "log-level"))
	}
	if c.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			errs = append(errs, fmt.Errorf("invalid admin address %q: %w", c.AdminAddr, err))
		}
	}
	return errors.Join(errs...)
}

// Addr is the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EngineOptions translates the config into engine options
func (c *Config) EngineOptions() core.Options {
	return core.Options{
		Workers:           c.Workers,
		QueueCapacity:     c.QueueCapacity,
		AdmitBatch:        c.AdmitBatch,
		PollInterval:      c.PollInterval,
		ReadTimeout:       c.ReadTimeout,
		RequestBufferHint: c.RequestBufferHint,
		MaxRequestBytes:   c.MaxRequestBytes,
		ReplyOnError:      c.ReplyOnError,
	}
}

// GCConfig translates the config into garbage collector settings
func (c *Config) GCConfig() pools.GCConfig {
	return pools.GCConfig{Percent: c.GCPercent, MemoryLimit: c.MemoryLimit}
}

// LoggingOptions translates the config into logger options
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.LogLevel, Development: c.LogDevelopment}
}
