package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BankrollUSD tracks the current bankroll.
	BankrollUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprintbet_ledger_bankroll_usd",
		Help: "Current bankroll in USD",
	})

	// ReservedUSD tracks bankroll reserved by in-flight admissions.
	ReservedUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprintbet_ledger_reserved_usd",
		Help: "Bankroll reserved by in-flight admissions in USD",
	})

	// OpenPositions tracks the number of pending trades.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprintbet_ledger_open_positions",
		Help: "Number of open positions awaiting settlement",
	})

	// FillsTotal counts confirmed fills by execution mode.
	FillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sprintbet_ledger_fills_total",
			Help: "Total confirmed fills by execution mode",
		},
		[]string{"mode"},
	)

	// SettlementsTotal counts closed positions by result.
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sprintbet_ledger_settlements_total",
			Help: "Total settled positions by result",
		},
		[]string{"result"},
	)

	// SettlementPnLUSD tracks realized pnl per settlement.
	SettlementPnLUSD = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sprintbet_ledger_settlement_pnl_usd",
		Help:    "Realized pnl per settlement in USD",
		Buckets: []float64{-100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
	})
)
