package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lectorium_sessions_open",
			Help: "Number of open document sessions",
		},
	)

	savesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_saves_total",
			Help: "Total number of document saves",
		},
		[]string{"kind", "status"}, // full|incremental, success|burn_error|write_error
	)

	saveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lectorium_save_duration_seconds",
			Help:    "Save duration including burn and write",
			Buckets: prometheus.DefBuckets,
		},
	)

	conflictResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_conflict_resolutions_total",
			Help: "Resolved document conflicts",
		},
		[]string{"action"},
	)
)
