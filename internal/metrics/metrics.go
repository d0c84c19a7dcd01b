// Package metrics exposes Prometheus instrumentation for the transport
// core. Invariant violations surface here and in the logs only; they
// never feed back into control flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors shared by all connections of one
// endpoint.
type Metrics struct {
	PacketsSent     prometheus.Counter
	PacketsReceived prometheus.Counter
	PacketsDropped  prometheus.Counter
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter

	DecodeErrors        prometheus.Counter
	InvariantViolations prometheus.Counter

	Connections  prometheus.Gauge
	BacklogDepth prometheus.Gauge
	SchedulerLen prometheus.Gauge
}

// New registers the transport collectors with reg. Pass
// prometheus.DefaultRegisterer outside of tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statewire",
			Name:      "packets_sent_total",
			Help:      "Packets handed to the transport.",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statewire",
			Name:      "packets_received_total",
			Help:      "Packets received from the transport.",
		}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statewire",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped as duplicate, stale, or malformed.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statewire",
			Name:      "bytes_sent_total",
			Help:      "Encoded bytes handed to the transport.",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statewire",
			Name:      "bytes_received_total",
			Help:      "Bytes received from the transport.",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statewire",
			Name:      "decode_errors_total",
			Help:      "Malformed packets dropped at the decode boundary.",
		}),
		InvariantViolations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statewire",
			Name:      "invariant_violations_total",
			Help:      "Protocol invariant violations observed (implementation-bug signal).",
		}),
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "statewire",
			Name:      "connections",
			Help:      "Connections currently established.",
		}),
		BacklogDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "statewire",
			Name:      "backlog_pending_entities",
			Help:      "Entities with messages parked awaiting their creation.",
		}),
		SchedulerLen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "statewire",
			Name:      "scheduler_queue_len",
			Help:      "Messages waiting in the output delay scheduler.",
		}),
	}
}
