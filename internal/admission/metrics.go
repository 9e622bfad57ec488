package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionsTotal counts admitted signals.
	AdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sprintbet_admission_admitted_total",
		Help: "Total signals admitted for execution",
	})

	// RejectionsTotal counts rejected signals by reason code.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sprintbet_admission_rejected_total",
			Help: "Total signals rejected at admission",
		},
		[]string{"reason"},
	)

	// ExecutingInFlight tracks condition ids with a router invocation in flight.
	ExecutingInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprintbet_admission_executing_in_flight",
		Help: "Condition ids currently marked executing",
	})
)
