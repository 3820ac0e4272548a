// Package metric exposes agent-level Prometheus metrics.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all agent metrics. One instance per process, handed to
// every component at construction.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived  *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	ConnectionReady *prometheus.GaugeVec
	LifecycleEvents *prometheus.CounterVec
	StatusPushes    prometheus.Counter
	SnapshotPosts   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Events consumed by the router, by sender connection.",
			},
			[]string{"conn"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped on queue overflow, by connection.",
			},
			[]string{"conn"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "conn",
				Name:      "reconnect_attempts_total",
				Help:      "Reconnect attempts per connection.",
			},
			[]string{"conn"},
		),
		ConnectionReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "bridge",
				Subsystem: "conn",
				Name:      "ready",
				Help:      "Whether the connection handshake is complete (0/1).",
			},
			[]string{"conn"},
		),
		LifecycleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "printer",
				Name:      "lifecycle_events_total",
				Help:      "Print lifecycle transitions observed.",
			},
			[]string{"event"},
		),
		StatusPushes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "cloud",
				Name:      "status_pushes_total",
				Help:      "Status payloads shipped to the cloud service.",
			},
		),
		SnapshotPosts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "cloud",
				Name:      "snapshot_posts_total",
				Help:      "Snapshot artifacts posted to the cloud service.",
			},
		),
	}
	m.registry.MustRegister(
		m.EventsReceived,
		m.EventsDropped,
		m.Reconnects,
		m.ConnectionReady,
		m.LifecycleEvents,
		m.StatusPushes,
		m.SnapshotPosts,
	)
	return m
}

// Handler serves the registry for the local HTTP surface.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventDropped implements flow.Observer.
func (m *Metrics) EventDropped(conn string) {
	m.EventsDropped.WithLabelValues(conn).Inc()
}

// ReconnectAttempt implements flow.Observer.
func (m *Metrics) ReconnectAttempt(conn string) {
	m.Reconnects.WithLabelValues(conn).Inc()
}

// ReadyChanged implements flow.Observer.
func (m *Metrics) ReadyChanged(conn string, ready bool) {
	v := 0.0
	if ready {
		v = 1.0
	}
	m.ConnectionReady.WithLabelValues(conn).Set(v)
}
