package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_remote_requests_total",
			Help: "Total number of requests to remote services",
		},
		[]string{"service", "status"}, // vision|refine|translate, HTTP status or "error"
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lectorium_remote_request_duration_seconds",
			Help:    "Remote service request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service"},
	)
)
