package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal counts order submissions by type and resulting status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_execution_orders_total",
		Help: "Total order submissions by order type and outcome status",
	}, []string{"order_type", "status"})

	// RequestDurationSeconds tracks round-trip latency to the CLOB API.
	RequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sprintbet_execution_request_duration_seconds",
		Help:    "CLOB API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
