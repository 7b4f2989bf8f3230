package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the core's collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	reconnects      prometheus.Counter
	probeTimeouts   prometheus.Counter
	probeLatency    prometheus.Histogram
	duplicatePushes *prometheus.CounterVec
	sends           *prometheus.CounterVec
	pushes          *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a connection loss.",
		}),
		probeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "probe_timeouts_total",
			Help:      "Health probes that received no reply in time.",
		}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatsync",
			Name:      "probe_latency_seconds",
			Help:      "Round-trip time of answered health probes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		duplicatePushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "duplicate_pushes_total",
			Help:      "Pushed events dropped as duplicates.",
		}, []string{"kind"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_total",
			Help:      "Message sends by result.",
		}, []string{"result"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "pushes_received_total",
			Help:      "Inbound stream events by name.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(
		m.reconnects,
		m.probeTimeouts,
		m.probeLatency,
		m.duplicatePushes,
		m.sends,
		m.pushes,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) ProbeTimeout() {
	if m != nil {
		m.probeTimeouts.Inc()
	}
}

func (m *Metrics) ProbeLatency(d time.Duration) {
	if m != nil {
		m.probeLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) DuplicatePush(kind string) {
	if m != nil {
		m.duplicatePushes.WithLabelValues(kind).Inc()
	}
}

// Send records a send outcome: "sent" or "failed".
func (m *Metrics) Send(result string) {
	if m != nil {
		m.sends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Push(event string) {
	if m != nil {
		m.pushes.WithLabelValues(event).Inc()
	}
}
