package oracle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedemptionsTotal counts redeemPositions transactions by outcome.
	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_oracle_redemptions_total",
		Help: "Total redemption transactions by result",
	}, []string{"result"})

	// RedemptionDurationSeconds tracks time from tx submission to receipt.
	RedemptionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sprintbet_oracle_redemption_duration_seconds",
		Help:    "Time waiting for redemption transaction confirmation",
		Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120},
	})
)
