// Package metrics exposes Prometheus instruments for the realtime hub.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "civic_realtime"

// Metrics groups the counters and gauges recorded by the hub and dispatcher.
type Metrics struct {
	connections     prometheus.Gauge
	frames          *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	emergencies     prometheus.Counter
	evictions       prometheus.Counter
	persistFailures prometheus.Counter
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live WebSocket connections in the registry.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound frames by declared type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient broadcast sends by result.",
		}, []string{"result"}),
		emergencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergencies_total",
			Help:      "Emergency events persisted and fanned out.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_evictions_total",
			Help:      "Connections closed by the liveness supervisor.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Events that failed to persist and were never broadcast.",
		}),
	}
	reg.MustRegister(m.connections, m.frames, m.deliveries, m.emergencies, m.evictions, m.persistFailures)
	return m
}

// Handler serves the gathered metrics in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Frame(frameType string) {
	if m != nil {
		m.frames.WithLabelValues(frameType).Inc()
	}
}

func (m *Metrics) Delivered(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.deliveries.WithLabelValues("ok").Inc()
	} else {
		m.deliveries.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) Emergency() {
	if m != nil {
		m.emergencies.Inc()
	}
}

func (m *Metrics) Evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.persistFailures.Inc()
	}
}
