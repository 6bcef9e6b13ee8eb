package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PerformanceMonitor keeps per-endpoint latency and error counts in memory
// and flags endpoints that look unhealthy. It is cheap enough to sit on every
// request path.
type PerformanceMonitor struct {
	enabled  atomic.Bool
	handlers sync.Map // route -> *HandlerMetrics
	global   struct {
		totalRequests atomic.Uint64
		totalErrors   atomic.Uint64
		totalDuration atomic.Uint64
	}

	// Thresholds for bottleneck detection
	SlowThreshold      time.Duration
	ErrorRateThreshold float64
}

// HandlerMetrics stores per-endpoint metrics
type HandlerMetrics struct {
	Name           string
	Count          atomic.Uint64
	Errors         atomic.Uint64
	TotalDuration  atomic.Uint64
	MinDuration    atomic.Uint64
	MaxDuration    atomic.Uint64
	latencyBuckets [len(latencyBounds) + 1]atomic.Uint64
}

// latencyBounds are the upper bounds of the latency buckets; the last bucket
// is unbounded
var latencyBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Bottleneck represents a performance issue
type Bottleneck struct {
	Type       string    `json:"type"`
	Location   string    `json:"location"`
	Severity   int       `json:"severity"`
	Impact     float64   `json:"impact"`
	DetectedAt time.Time `json:"detected_at"`
	Details    string    `json:"details"`
}

// NewPerformanceMonitor creates a monitor
func NewPerformanceMonitor() *PerformanceMonitor {
	pm := &PerformanceMonitor{
		SlowThreshold:      100 * time.Millisecond,
		ErrorRateThreshold: 0.05,
	}
	pm.enabled.Store(true)
	return pm
}

// SetEnabled turns recording on or off
func (pm *PerformanceMonitor) SetEnabled(on bool) { pm.enabled.Store(on) }

// ObserveRequest implements middleware.Recorder
func (pm *PerformanceMonitor) ObserveRequest(route string, d time.Duration, err error) {
	pm.RecordRequest(route, d, err != nil)
}

// RecordRequest records a request
func (pm *PerformanceMonitor) RecordRequest(handler string, duration time.Duration, isError bool) {
	if !pm.enabled.Load() {
		return
	}

	val, ok := pm.handlers.Load(handler)
	if !ok {
		val, _ = pm.handlers.LoadOrStore(handler, &HandlerMetrics{Name: handler})
	}
	metrics := val.(*HandlerMetrics)

	metrics.Count.Add(1)
	if isError {
		metrics.Errors.Add(1)
		pm.global.totalErrors.Add(1)
	}

	durationNs := uint64(duration.Nanoseconds())
	metrics.TotalDuration.Add(durationNs)
	updateMinMax(metrics, durationNs)
	metrics.latencyBuckets[bucketFor(duration)].Add(1)

	pm.global.totalRequests.Add(1)
	pm.global.totalDuration.Add(durationNs)
}

func updateMinMax(m *HandlerMetrics, d uint64) {
	for {
		min := m.MinDuration.Load()
		if min != 0 && d >= min {
			break
		}
		if m.MinDuration.CompareAndSwap(min, d) {
			break
		}
	}
	for {
		max := m.MaxDuration.Load()
		if d <= max {
			break
		}
		if m.MaxDuration.CompareAndSwap(max, d) {
			break
		}
	}
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d < bound {
			return i
		}
	}
	return len(latencyBounds)
}

// DetectBottlenecks inspects the recorded endpoints and reports those that are
// slow on average or fail too often, most severe first.
func (pm *PerformanceMonitor) DetectBottlenecks() []Bottleneck {
	bottlenecks := make([]Bottleneck, 0)
	now := time.Now()

	pm.handlers.Range(func(key, value any) bool {
		m := value.(*HandlerMetrics)
		count := m.Count.Load()
		if count == 0 {
			return true
		}

		avgDuration := time.Duration(m.TotalDuration.Load() / count)

		// High latency
		if avgDuration > pm.SlowThreshold {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "latency",
				Location:   m.Name,
				Severity:   8,
				Impact:     float64(avgDuration) / float64(pm.SlowThreshold) * 100,
				DetectedAt: now,
				Details:    fmt.Sprintf("High latency (%v avg)", avgDuration),
			})
		}

		// High error rate
		errors := m.Errors.Load()
		if rate := float64(errors) / float64(count); errors > 0 && rate > pm.ErrorRateThreshold {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "errors",
				Location:   m.Name,
				Severity:   10,
				Impact:     rate * 100,
				DetectedAt: now,
				Details:    fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}

		return true
	})

	sort.Slice(bottlenecks, func(i, j int) bool {
		if bottlenecks[i].Severity != bottlenecks[j].Severity {
			return bottlenecks[i].Severity > bottlenecks[j].Severity
		}
		return bottlenecks[i].Location < bottlenecks[j].Location
	})
	return bottlenecks
}

// EndpointSnapshot is a point-in-time copy of one endpoint's metrics
type EndpointSnapshot struct {
	Route     string        `json:"route"`
	Count     uint64        `json:"count"`
	Errors    uint64        `json:"errors"`
	Avg       time.Duration `json:"avg_ns"`
	Min       time.Duration `json:"min_ns"`
	Max       time.Duration `json:"max_ns"`
	Histogram []uint64      `json:"histogram"`
}

// MonitorSnapshot is a point-in-time copy of the monitor
type MonitorSnapshot struct {
	TotalRequests uint64             `json:"total_requests"`
	TotalErrors   uint64             `json:"total_errors"`
	Endpoints     []EndpointSnapshot `json:"endpoints"`
	Bottlenecks   []Bottleneck       `json:"bottlenecks"`
}

// Snapshot copies every counter, sorted by route
func (pm *PerformanceMonitor) Snapshot() MonitorSnapshot {
	snap := MonitorSnapshot{
		TotalRequests: pm.global.totalRequests.Load(),
		TotalErrors:   pm.global.totalErrors.Load(),
	}
	pm.handlers.Range(func(key, value any) bool {
		m := value.(*HandlerMetrics)
		es := EndpointSnapshot{
			Route:     m.Name,
			Count:     m.Count.Load(),
			Errors:    m.Errors.Load(),
			Min:       time.Duration(m.MinDuration.Load()),
			Max:       time.Duration(m.MaxDuration.Load()),
			Histogram: make([]uint64, len(m.latencyBuckets)),
		}
		if es.Count > 0 {
			es.Avg = time.Duration(m.TotalDuration.Load() / es.Count)
		}
		for i := range m.latencyBuckets {
			es.Histogram[i] = m.latencyBuckets[i].Load()
		}
		snap.Endpoints = append(snap.Endpoints, es)
		return true
	})
	sort.Slice(snap.Endpoints, func(i, j int) bool { return snap.Endpoints[i].Route < snap.Endpoints[j].Route })
	snap.Bottlenecks = pm.DetectBottlenecks()
	return snap
}
