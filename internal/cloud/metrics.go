package cloud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hubConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lectorium_cloud_hub_active_connections",
			Help: "Number of active cloud hub websocket connections",
		},
	)

	hubMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_cloud_hub_messages_total",
			Help: "Total number of cloud hub websocket messages",
		},
		[]string{"direction", "op"}, // received|sent, operation
	)
)
