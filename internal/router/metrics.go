package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FillsTotal counts successful routings by execution mode.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_router_fills_total",
		Help: "Total fills by execution mode",
	}, []string{"mode"})

	// NoFillsTotal counts abandoned routings by gate reason.
	NoFillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_router_no_fills_total",
		Help: "Total no-fill outcomes by reason code",
	}, []string{"reason"})

	// RetriesTotal counts retried route attempts by error class.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_router_retries_total",
		Help: "Total route attempt retries by error class",
	}, []string{"class"})
)
