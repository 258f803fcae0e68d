package balancer

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	for _, e := range []Event{
		{Kind: BackendAdded, Network: "n", Backend: "A"},
		{Kind: BackendOffline, Network: "n", Backend: "B"},
		{Kind: WorkerSpawned, Network: "n", Backend: "A"},
		{Kind: WorkerSpawned, Network: "n", Backend: "A"},
		{Kind: WorkerKilled, Network: "n", Backend: "A"},
		{Kind: CallRequested, Network: "n", Method: "m"},
		{Kind: CallTimedOut, Network: "n", Backend: "A", Method: "m"},
		{Kind: CallFailed, Network: "n", Backend: "A", Method: "m"},
		{Kind: CallFailed, Network: "n", Backend: "A", Method: "m", Final: true},
		{Kind: CallSucceeded, Network: "n", Backend: "A", Method: "m", Elapsed: time.Millisecond},
		{Kind: BalancerFlushed, Network: "n"},
		{Kind: NetworkSwitched, Network: "o"},
	} {
		m.Emit(e)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.online.WithLabelValues("n", "A")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.online.WithLabelValues("n", "B")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workers.WithLabelValues("n", "A")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("n", "m", "requested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("n", "m", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("n", "m", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("n", "A", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("n", "A", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushes.WithLabelValues("n")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.switches))

	m.Emit(Event{Kind: BackendRemoved, Network: "n", Backend: "B"})
	assert.Equal(t, 1, testutil.CollectAndCount(m.online))
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	a := newFake("A")

	bal, err := New(Network{Name: "n", Backends: []Descriptor{desc(a, "m")}}, Options{}, zaptest.NewLogger(t), m)
	require.NoError(t, err)

	defer bal.Close()

	_, err = bal.Submit(ctxWithin(t, time.Second), "m", nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("n", "m", "succeeded")))
	assert.Equal(t, float64(DefaultMaxWorkers), testutil.ToFloat64(m.workers.WithLabelValues("n", "A")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
}
