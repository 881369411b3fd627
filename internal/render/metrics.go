package render

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_render_cache_lookups_total",
			Help: "Render cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss
	)

	cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lectorium_render_cache_evictions_total",
			Help: "Bitmaps evicted from the render cache",
		},
	)

	rasterizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lectorium_rasterize_duration_seconds",
			Help:    "Page rasterization duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	rasterizeCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lectorium_rasterize_cancelled_total",
			Help: "Rasterizations abandoned because the view changed",
		},
	)
)
