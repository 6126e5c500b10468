// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turncast_turns_appended_total",
		Help: "Turn snapshots appended to playback sessions",
	})

	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turncast_protocol_errors_total",
		Help: "Inbound messages rejected as protocol violations",
	}, []string{"connection"})

	TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turncast_transport_errors_total",
		Help: "Socket failures by connection",
	}, []string{"connection"})

	PendingActions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "turncast_pending_actions",
		Help: "Human actions waiting for their result delta",
	})

	FramesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turncast_frames_broadcast_total",
		Help: "Frames pushed to renderer clients",
	})

	ClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turncast_clients_dropped_total",
		Help: "Renderer clients dropped for falling behind",
	})
)
