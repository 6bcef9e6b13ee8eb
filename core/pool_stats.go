package core

import (
	"encoding/json"
	"fmt"

	"github.com/searchktools/blaze/core/pools"
	"github.com/searchktools/blaze/core/queue"
)

// PoolStats represents statistics for the engine's queue, workers and buffers
type PoolStats struct {
	Connections ConnectionStats       `json:"connections"`
	Queue       queue.Stats           `json:"queue"`
	Workers     pools.WorkerPoolStats `json:"workers"`
	Buffers     pools.BytePoolStats   `json:"buffers"`
}

// ConnectionStats counts what the acceptor has seen
type ConnectionStats struct {
	Accepted     uint64 `json:"accepted"`
	AcceptErrors uint64 `json:"accept_errors"`
	Dropped      uint64 `json:"dropped"`
}

// GetPoolStats returns statistics for all pools
func (e *Engine) GetPoolStats() PoolStats {
	return PoolStats{
		Connections: ConnectionStats{
			Accepted:     e.accepted.Load(),
			AcceptErrors: e.acceptErrors.Load(),
			Dropped:      e.dropped.Load(),
		},
		Queue:   e.queue.Stats(),
		Workers: e.pool.Stats(),
		Buffers: e.buffers.Stats(),
	}
}

// GetPoolStatsJSON returns pool statistics as JSON string
func (e *Engine) GetPoolStatsJSON() string {
	data, _ := json.MarshalIndent(e.GetPoolStats(), "", "  ")
	return string(data)
}

// GetPoolStatsText returns pool statistics as human-readable text
func (e *Engine) GetPoolStatsText() string {
	stats := e.GetPoolStats()
	return fmt.Sprintf(`Engine Pool Statistics
======================

Connections:
  Accepted:      %d
  Accept errors: %d
  Dropped:       %d

Admission queue:
  Depth:    %d / %s
  Enqueued: %d
  Dequeued: %d
  Rejected: %d

Workers (%d):
  Admitted:  %d
  Completed: %d
  Failed:    %d
  Active:    %d

Request buffers:
  Gets:        %d
  Puts:        %d
  Outstanding: %d

Target: Outstanding buffers == Active tasks at rest
`,
		stats.Connections.Accepted, stats.Connections.AcceptErrors, stats.Connections.Dropped,
		stats.Queue.Depth, capacityText(stats.Queue.Capacity), stats.Queue.Enqueued, stats.Queue.Dequeued, stats.Queue.Rejected,
		stats.Workers.NumWorkers, stats.Workers.TasksAdmitted, stats.Workers.TasksCompleted, stats.Workers.TasksFailed, stats.Workers.TasksActive,
		stats.Buffers.Gets, stats.Buffers.Puts, stats.Buffers.Outstanding,
	)
}

func capacityText(c int) string {
	if c == queue.Unbounded {
		return "unbounded"
	}
	return fmt.Sprint(c)
}
