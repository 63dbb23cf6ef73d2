package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "mindexpress"
	subsystem = "signalling"
)

var (
	// MessagesRelayed counts offer/answer/ice-candidate envelopes
	// delivered point-to-point, by message type.
	MessagesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "messages_relayed_total",
		Help:      "Negotiation messages relayed between participants.",
	}, []string{"type"})

	// RoomsEvicted counts rooms removed by the idle reaper.
	RoomsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rooms_evicted_total",
		Help:      "Rooms evicted for inactivity.",
	})
)

func init() {
	prometheus.MustRegister(MessagesRelayed, RoomsEvicted)
}

// RegisterState exposes the live room and client counts as gauges backed
// by the given read-only accessors.
func RegisterState(activeRooms func() int, connectedClients func() int) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_rooms",
			Help:      "Rooms with at least one participant.",
		}, func() float64 { return float64(activeRooms()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connected_clients",
			Help:      "Live signalling connections.",
		}, func() float64 { return float64(connectedClients()) }),
	)
}
