package burner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	burnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_burns_total",
			Help: "Total number of burns",
		},
		[]string{"kind", "status"}, // full|incremental, success|error
	)

	burnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lectorium_burn_duration_seconds",
			Help:    "Burn duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	workerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_burn_worker_failures_total",
			Help: "Burns rejected because the worker panicked or timed out",
		},
		[]string{"reason"}, // panic|timeout
	)
)
