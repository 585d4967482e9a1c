package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections       prometheus.Gauge
	Rooms             prometheus.Gauge
	Messages          *prometheus.CounterVec
	Rejected          *prometheus.CounterVec
	Dropped           prometheus.Counter
	Kicked            prometheus.Counter
	SignalsRelayed    *prometheus.CounterVec
	TargetUnavailable prometheus.Counter
	EventsDropped     prometheus.Counter
}

// NewMetrics registers the coordinator's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "jam", Name: "connections",
			Help: "Live signaling connections.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "jam", Name: "rooms",
			Help: "Rooms with at least one member.",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jam", Name: "messages_total",
			Help: "Inbound messages handled, by kind.",
		}, []string{"kind"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jam", Name: "messages_rejected_total",
			Help: "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "jam", Name: "deliveries_dropped_total",
			Help: "Outbound frames not queued because the receiver was slow.",
		}),
		Kicked: f.NewCounter(prometheus.CounterOpts{
			Namespace: "jam", Name: "members_kicked_total",
			Help: "Members disconnected by the backpressure policy.",
		}),
		SignalsRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jam", Name: "signals_relayed_total",
			Help: "Signaling envelopes relayed, by type.",
		}, []string{"signal"}),
		TargetUnavailable: f.NewCounter(prometheus.CounterOpts{
			Namespace: "jam", Name: "target_unavailable_total",
			Help: "Signals whose target could not be reached.",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "jam", Name: "events_dropped_total",
			Help: "Room events dropped by the publisher queue.",
		}),
	}
}
