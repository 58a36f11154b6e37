// Package metrics registers the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenroom_active_rooms",
		Help: "Number of rooms currently in the registry",
	})

	RoomsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenroom_rooms_created_total",
		Help: "Total number of rooms created",
	})

	ActiveBroadcasters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenroom_active_broadcasters",
		Help: "Number of rooms with a live broadcaster",
	})

	ActiveViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenroom_active_viewers",
		Help: "Number of connected viewer legs",
	})

	ViewersConnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenroom_viewers_connected_total",
		Help: "Total number of viewers that completed subscribe",
	})

	// ActivePeerConnections tracks server-side WebRTC legs by role.
	ActivePeerConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "screenroom_active_peer_connections",
		Help: "Number of active WebRTC peer connections",
	}, []string{"role"}) // "broadcaster" | "viewer"

	PeerConnectionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenroom_peer_connections_created_total",
		Help: "Total number of WebRTC peer connections created",
	}, []string{"role"})

	PeerConnectionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenroom_peer_connection_failures_total",
		Help: "Total number of WebRTC peer connection failures",
	}, []string{"reason"})

	SignalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenroom_signal_requests_total",
		Help: "Signaling requests by operation and outcome",
	}, []string{"operation", "outcome"}) // outcome: "ok" | error code

	RelayPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenroom_relay_packets_total",
		Help: "RTP packets moved through the relay",
	}, []string{"direction"}) // "received" | "forwarded"

	RelayBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenroom_relay_bytes_total",
		Help: "RTP bytes moved through the relay",
	}, []string{"direction"})

	RelayFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenroom_relay_frames_total",
		Help: "Video frames relayed, counted by RTP marker bit",
	})

	PLIRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenroom_pli_requests_total",
		Help: "PLI requests relayed to broadcasters",
	})

	NACKRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenroom_nack_requests_total",
		Help: "NACK requests observed from viewers",
	})

	ICECandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenroom_ice_candidates_total",
		Help: "ICE candidates gathered on relay legs",
	}, []string{"type"})

	ICEGatheringDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screenroom_ice_gathering_seconds",
		Help:    "Time spent gathering ICE candidates for an answer",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
	}, []string{"role"})

	SignalSetupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screenroom_signal_setup_seconds",
		Help:    "Time to complete a publish or subscribe exchange",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"role"})

	ViewersPerRoom = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "screenroom_viewers_per_room",
		Help:    "Viewer count observed at subscribe time",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenroom_websocket_connections",
		Help: "Open websocket connections",
	})

	RoomEventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenroom_room_event_subscribers",
		Help: "Open room-event websocket subscriptions",
	})

	ConfigReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenroom_config_reloads_total",
		Help: "Number of configuration reloads",
	})

	StartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenroom_start_time_seconds",
		Help: "Server start time in Unix seconds",
	})
)
