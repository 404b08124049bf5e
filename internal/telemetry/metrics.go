// Package telemetry exports finished captures to external collectors and
// exposes the honeypot's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/protocol"
)

// Metrics holds every honeypot metric on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Connection counters
	ActiveConnections   prometheus.Gauge
	TotalConnections    prometheus.Counter
	RejectedConnections prometheus.Counter

	// Handshake counters
	PacketsReceived  *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	PasswordRequests prometheus.Counter

	ConnectionDuration prometheus.Histogram

	// Export counters
	EventsExported *prometheus.CounterVec
	ExportErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers the honeypot metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bottled_honey_active_connections",
			Help: "Number of connections currently in a handshake",
		}),

		TotalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bottled_honey_connections_total",
			Help: "Total number of accepted connections",
		}),

		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bottled_honey_connections_rejected_total",
			Help: "Connections closed immediately because the connection cap was reached",
		}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottled_honey_packets_received_total",
			Help: "Packets received from clients by packet type",
		}, []string{"packet"}),

		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottled_honey_connection_outcomes_total",
			Help: "Finished connections by outcome and termination reason",
		}, []string{"outcome", "reason"}),

		PasswordRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bottled_honey_password_requests_total",
			Help: "Connections that were sent a password challenge",
		}),

		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bottled_honey_connection_duration_seconds",
			Help:    "Time from accept to the end of the handshake",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 3, 5, 10, 30, 60},
		}),

		EventsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottled_honey_events_exported_total",
			Help: "Captures successfully handed to an exporter",
		}, []string{"exporter"}),

		ExportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottled_honey_export_errors_total",
			Help: "Failed capture exports by exporter",
		}, []string{"exporter"}),
	}

	m.registry.MustRegister(
		m.ActiveConnections,
		m.TotalConnections,
		m.RejectedConnections,
		m.PacketsReceived,
		m.Outcomes,
		m.PasswordRequests,
		m.ConnectionDuration,
		m.EventsExported,
		m.ExportErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchBus exposes the bus queue depth and drop count.
func (m *Metrics) WatchBus(bus *events.Bus) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bottled_honey_event_queue_depth",
			Help: "Captures waiting to be dispatched to exporters",
		}, func() float64 { return float64(bus.Pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "bottled_honey_events_dropped_total",
			Help: "Captures dropped because the event queue was full",
		}, func() float64 { return float64(bus.Dropped()) }),
	)
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.TotalConnections.Inc()
	m.ActiveConnections.Inc()
}

// ConnectionRejected records a connection dropped at the cap.
func (m *Metrics) ConnectionRejected() {
	m.RejectedConnections.Inc()
}

// PacketReceived records one client packet.
func (m *Metrics) PacketReceived(id byte) {
	m.PacketsReceived.WithLabelValues(protocol.PacketName(id)).Inc()
}

// ConnectionClosed records the finished connection.
func (m *Metrics) ConnectionClosed(event events.Event) {
	m.ActiveConnections.Dec()
	m.Outcomes.WithLabelValues(string(event.Outcome), string(event.Reason)).Inc()
	if event.PasswordRequested {
		m.PasswordRequests.Inc()
	}
	m.ConnectionDuration.Observe(event.Duration().Seconds())
}

// Exported records a successful export.
func (m *Metrics) Exported(exporter string) {
	m.EventsExported.WithLabelValues(exporter).Inc()
}

// ExportFailed records a failed export.
func (m *Metrics) ExportFailed(exporter string) {
	m.ExportErrors.WithLabelValues(exporter).Inc()
}
