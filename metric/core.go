// Package metric provides Prometheus metric registration and the platform
// metric set for OSCQuery components.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// HTTP query surface
	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram

	// WebSocket hub
	WSClientsActive  prometheus.Gauge
	WSClientsTotal   prometheus.Counter
	WSMessagesIn     *prometheus.CounterVec
	WSMessagesOut    *prometheus.CounterVec
	WSSendFailures   prometheus.Counter
	Notifications    *prometheus.CounterVec
	SubscriptionsSet prometheus.Gauge

	// OSC codec and UDP transport
	OSCDecoded       prometheus.Counter
	OSCMalformed     prometheus.Counter
	OSCEncodeSkipped prometheus.Counter
	UDPDatagrams     prometheus.Counter

	// Discovery
	ServicesUp   prometheus.Counter
	ServicesDown prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "http",
				Name:      "queries_total",
				Help:      "Total HTTP queries served, by status class",
			},
			[]string{"status"},
		),

		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "oscquery",
				Subsystem: "http",
				Name:      "query_duration_seconds",
				Help:      "HTTP query handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		WSClientsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "oscquery",
				Subsystem: "ws",
				Name:      "clients_active",
				Help:      "Number of connected WebSocket clients",
			},
		),

		WSClientsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "ws",
				Name:      "clients_total",
				Help:      "Total WebSocket connections accepted",
			},
		),

		WSMessagesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "ws",
				Name:      "messages_in_total",
				Help:      "Inbound WebSocket frames, by kind",
			},
			[]string{"kind"},
		),

		WSMessagesOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "ws",
				Name:      "messages_out_total",
				Help:      "Outbound WebSocket frames, by kind",
			},
			[]string{"kind"},
		),

		WSSendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "ws",
				Name:      "send_failures_total",
				Help:      "Client sends that failed and deregistered the client",
			},
		),

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "notify",
				Name:      "broadcasts_total",
				Help:      "Notifications broadcast to subscribers, by command",
			},
			[]string{"command"},
		),

		SubscriptionsSet: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "oscquery",
				Subsystem: "notify",
				Name:      "subscriptions",
				Help:      "Total path-prefix subscriptions across clients",
			},
		),

		OSCDecoded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "osc",
				Name:      "decoded_total",
				Help:      "OSC messages successfully decoded",
			},
		),

		OSCMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "osc",
				Name:      "malformed_total",
				Help:      "OSC packets rejected as malformed",
			},
		),

		OSCEncodeSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "osc",
				Name:      "encode_skipped_total",
				Help:      "Arguments skipped during OSC encoding",
			},
		),

		UDPDatagrams: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "udp",
				Name:      "datagrams_total",
				Help:      "UDP datagrams received on the OSC listener",
			},
		),

		ServicesUp: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "discovery",
				Name:      "services_up_total",
				Help:      "Services that appeared on the network",
			},
		),

		ServicesDown: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscquery",
				Subsystem: "discovery",
				Name:      "services_down_total",
				Help:      "Services that disappeared from the network",
			},
		),
	}
}

// collectors returns every platform metric for bulk registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.QueriesTotal,
		m.QueryDuration,
		m.WSClientsActive,
		m.WSClientsTotal,
		m.WSMessagesIn,
		m.WSMessagesOut,
		m.WSSendFailures,
		m.Notifications,
		m.SubscriptionsSet,
		m.OSCDecoded,
		m.OSCMalformed,
		m.OSCEncodeSkipped,
		m.UDPDatagrams,
		m.ServicesUp,
		m.ServicesDown,
	}
}
