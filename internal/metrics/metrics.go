package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wirechat"

// Metrics holds realtime server collectors on a private registry.
// All methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	openConnections prometheus.Gauge
	onlineUsers     prometheus.Gauge
	activeRooms     prometheus.Gauge
	inbound         *prometheus.CounterVec
	outbound        *prometheus.CounterVec
	errors          *prometheus.CounterVec
	skipped         prometheus.Counter
	reaped          prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Transports currently open, authenticated or not.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Identities present in the connection registry.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Guild chat rooms with at least one member.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_envelopes_total",
			Help:      "Envelopes received, by type.",
		}, []string{"type"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_envelopes_total",
			Help:      "Envelopes queued for delivery, by type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_envelopes_total",
			Help:      "Error envelopes sent to clients, by code.",
		}, []string{"code"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_skipped_total",
			Help:      "Broadcast targets skipped because they were not connected.",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_reaped_total",
			Help:      "Connections terminated for missing a liveness probe.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.openConnections,
		m.onlineUsers,
		m.activeRooms,
		m.inbound,
		m.outbound,
		m.errors,
		m.skipped,
		m.reaped,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.openConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.openConnections.Dec()
	}
}

// SetRegistrySize records the current registry sizes.
func (m *Metrics) SetRegistrySize(users, rooms int) {
	if m != nil {
		m.onlineUsers.Set(float64(users))
		m.activeRooms.Set(float64(rooms))
	}
}

func (m *Metrics) Inbound(envelopeType string) {
	if m != nil {
		m.inbound.WithLabelValues(envelopeType).Inc()
	}
}

func (m *Metrics) Outbound(envelopeType string) {
	if m != nil {
		m.outbound.WithLabelValues(envelopeType).Inc()
	}
}

func (m *Metrics) ErrorSent(code string) {
	if m != nil {
		m.errors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) BroadcastSkipped() {
	if m != nil {
		m.skipped.Inc()
	}
}

func (m *Metrics) Reaped() {
	if m != nil {
		m.reaped.Inc()
	}
}
