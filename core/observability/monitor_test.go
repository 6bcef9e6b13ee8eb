package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformanceMonitor(t *testing.T) {
	pm := NewPerformanceMonitor()

	// Record some requests
	pm.RecordRequest("/api", 10*time.Millisecond, false)
	pm.RecordRequest("/api", 20*time.Millisecond, false)
	pm.RecordRequest("/api", 30*time.Millisecond, false)

	snap := pm.Snapshot()
	require.Len(t, snap.Endpoints, 1)
	ep := snap.Endpoints[0]
	assert.Equal(t, "/api", ep.Route)
	assert.Equal(t, uint64(3), ep.Count)
	assert.Equal(t, 20*time.Millisecond, ep.Avg)
	assert.Equal(t, 10*time.Millisecond, ep.Min)
	assert.Equal(t, 30*time.Millisecond, ep.Max)
	// 10ms and 20ms and 30ms all land in the 10ms..50ms bucket
	assert.Equal(t, uint64(3), ep.Histogram[3])
	assert.Equal(t, uint64(3), snap.TotalRequests)
	assert.Empty(t, snap.Bottlenecks)
}

func TestBottleneckDetection(t *testing.T) {
	pm := NewPerformanceMonitor()

	// Simulate slow handler
	for i := 0; i < 100; i++ {
		pm.RecordRequest("/slow", 150*time.Millisecond, false)
	}
	// and a failing one
	pm.ObserveRequest("/flaky", time.Millisecond, errors.New("boom"))
	pm.ObserveRequest("/flaky", time.Millisecond, nil)

	bottlenecks := pm.DetectBottlenecks()
	require.Len(t, bottlenecks, 2)
	assert.Equal(t, "errors", bottlenecks[0].Type)
	assert.Equal(t, "/flaky", bottlenecks[0].Location)
	assert.InDelta(t, 50.0, bottlenecks[0].Impact, 0.001)
	assert.Equal(t, "latency", bottlenecks[1].Type)
	assert.Equal(t, "/slow", bottlenecks[1].Location)
}

func TestMonitorDisabled(t *testing.T) {
	pm := NewPerformanceMonitor()
	pm.SetEnabled(false)
	pm.RecordRequest("/api", time.Millisecond, false)
	assert.Empty(t, pm.Snapshot().Endpoints)
}

func BenchmarkRecordRequest(b *testing.B) {
	pm := NewPerformanceMonitor()
	duration := 10 * time.Millisecond

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pm.RecordRequest("/api", duration, false)
	}
}
