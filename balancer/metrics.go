package balancer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a Sink exporting balancer events as Prometheus metrics.
type Metrics struct {
	calls    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	online   *prometheus.GaugeVec
	workers  *prometheus.GaugeVec
	flushes  *prometheus.CounterVec
	switches prometheus.Counter
}

// NewMetrics creates the balancer metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpcb_calls_total",
			Help: "Calls by network, method and outcome (requested, succeeded, failed).",
		}, []string{"network", "method", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpcb_failed_attempts_total",
			Help: "Attempts that timed out or failed, by network, backend and reason.",
		}, []string{"network", "backend", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpcb_call_duration_seconds",
			Help:    "Duration of successful invocations by network and backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"network", "backend"}),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpcb_backend_online",
			Help: "1 when the backend is online, 0 when offline.",
		}, []string{"network", "backend"}),
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpcb_workers",
			Help: "Live workers by network and backend.",
		}, []string{"network", "backend"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpcb_flushes_total",
			Help: "Flushes by network.",
		}, []string{"network"}),
		switches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpcb_network_switches_total",
			Help: "Network switches.",
		}),
	}

	reg.MustRegister(m.calls, m.attempts, m.latency, m.online, m.workers, m.flushes, m.switches)

	return m
}

// Emit updates the metrics affected by e.
func (m *Metrics) Emit(e Event) {
	switch e.Kind {
	case BackendAdded, BackendOnline:
		m.online.WithLabelValues(e.Network, e.Backend).Set(1)
	case BackendOffline:
		m.online.WithLabelValues(e.Network, e.Backend).Set(0)
	case BackendRemoved:
		m.online.DeleteLabelValues(e.Network, e.Backend)
	case WorkerSpawned:
		m.workers.WithLabelValues(e.Network, e.Backend).Inc()
	case WorkerKilled:
		m.workers.WithLabelValues(e.Network, e.Backend).Dec()
	case CallRequested:
		m.calls.WithLabelValues(e.Network, e.Method, "requested").Inc()
	case CallSucceeded:
		m.calls.WithLabelValues(e.Network, e.Method, "succeeded").Inc()
		m.latency.WithLabelValues(e.Network, e.Backend).Observe(e.Elapsed.Seconds())
	case CallTimedOut:
		m.attempts.WithLabelValues(e.Network, e.Backend, "timeout").Inc()
	case CallFailed:
		if e.Final {
			m.calls.WithLabelValues(e.Network, e.Method, "failed").Inc()
		} else {
			m.attempts.WithLabelValues(e.Network, e.Backend, "error").Inc()
		}
	case BalancerFlushed:
		m.flushes.WithLabelValues(e.Network).Inc()
	case NetworkSwitched:
		m.switches.Inc()
	}
}
