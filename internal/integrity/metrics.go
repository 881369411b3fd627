package integrity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var conflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lectorium_integrity_conflicts_total",
		Help: "Total number of external modifications detected on open",
	},
	[]string{"severity"},
)
