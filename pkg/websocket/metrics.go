package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprintbet_ws_active_connections",
		Help: "Whether the market feed connection is up (0 or 1)",
	})

	SubscriptionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprintbet_ws_subscriptions",
		Help: "Number of token subscriptions on the market channel",
	})

	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_ws_messages_received_total",
		Help: "Total feed messages received by event type",
	}, []string{"event_type"})

	MessagesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sprintbet_ws_messages_dropped_total",
		Help: "Feed messages dropped because the consumer channel was full",
	})

	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sprintbet_ws_reconnect_attempts_total",
		Help: "Total reconnection attempts",
	})
)
