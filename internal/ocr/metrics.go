package ocr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_ocr_jobs_total",
			Help: "OCR jobs by outcome",
		},
		[]string{"status"}, // status: scheduled, coalesced, cached, done, failed
	)

	recognitionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lectorium_ocr_recognition_duration_seconds",
			Help:    "Time spent in the recognition service per page",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50},
		},
	)

	wordsRecognized = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lectorium_ocr_words_per_page",
			Help:    "Number of words recognized per page",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000, 2500},
		},
	)

	batchPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectorium_ocr_batch_pages_total",
			Help: "Pages processed by batch runs",
		},
		[]string{"status"}, // status: done, failed, halted
	)
)
