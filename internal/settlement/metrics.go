package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PendingPositions tracks unresolved redeemable positions per tick.
	PendingPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprintbet_settlement_pending_positions",
		Help: "Open positions awaiting settlement",
	})

	// ClosesTotal counts closed positions by result and classification.
	ClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_settlement_closes_total",
		Help: "Closed positions by result and redemption classification",
	}, []string{"result", "classification"})

	// AmbiguousTotal counts polls that found an ambiguous payout vector.
	AmbiguousTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sprintbet_settlement_ambiguous_total",
		Help: "Polls observing an ambiguous payout vector",
	})

	// TicksTotal counts per-position reconcile outcomes.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_settlement_ticks_total",
		Help: "Per-position reconcile outcomes",
	}, []string{"outcome"})
)
