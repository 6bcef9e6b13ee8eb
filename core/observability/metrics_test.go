package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.AcceptError()
	m.ConnectionDropped()
	m.RequestDone(OutcomeOK)
	m.RequestDone(OutcomeOK)
	m.RequestDone(OutcomeNoRoute)
	m.FramingError("truncated")
	m.ParseError("unknown_method")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acceptErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(OutcomeNoRoute)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framingErrors.WithLabelValues("truncated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseErrors.WithLabelValues("unknown_method")))
}

func TestMetricsGauges(t *testing.T) {
	m := NewMetrics()
	depth := 3.0
	require.NoError(t, m.RegisterGauges(Gauges{
		QueueDepth:  func() float64 { return depth },
		TasksActive: func() float64 { return 7 },
	}))

	expected := `
# HELP blaze_admission_queue_depth Connections waiting in the admission queue.
# TYPE blaze_admission_queue_depth gauge
blaze_admission_queue_depth 3
# HELP blaze_tasks_active Connection tasks registered with a worker.
# TYPE blaze_tasks_active gauge
blaze_tasks_active 7
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"blaze_admission_queue_depth", "blaze_tasks_active")
	assert.NoError(t, err)

	assert.Error(t, m.RegisterGauges(Gauges{QueueDepth: func() float64 { return 0 }}), "duplicate registration")
}

func TestMetricsRequestDuration(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("/hello", 2*time.Millisecond, nil)
	m.ObserveRequest("/hello", 3*time.Millisecond, nil)

	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration, "blaze_request_duration_seconds"))
}
