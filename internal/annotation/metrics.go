package annotation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_annotation_sync_total",
			Help: "Total number of cloud annotation pushes",
		},
		[]string{"op", "status"}, // upsert|delete, success|queued
	)

	remoteEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_annotation_remote_events_total",
			Help: "Total number of cloud events applied to the session",
		},
		[]string{"kind"},
	)
)
