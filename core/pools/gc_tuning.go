package pools

import (
	"runtime/debug"
)

// GCConfig holds GC tuning parameters. Request buffers are pooled, so the
// collector mostly sees per-connection bookkeeping; raising Percent trades
// memory for fewer cycles.
type GCConfig struct {
	// Percent sets the garbage collection target percentage; 0 keeps the
	// current setting.
	Percent int

	// MemoryLimit sets the soft memory limit in bytes; 0 keeps the current limit.
	MemoryLimit int64
}

// ApplyGCConfig applies cfg and returns the settings it replaced, so that a
// later ApplyGCConfig can restore them.
func ApplyGCConfig(cfg GCConfig) GCConfig {
	var prev GCConfig
	if cfg.Percent > 0 {
		prev.Percent = debug.SetGCPercent(cfg.Percent)
	}
	if cfg.MemoryLimit > 0 {
		prev.MemoryLimit = debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	return prev
}
