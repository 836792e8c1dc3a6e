package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cartOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Total number of cart mutations by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	cartComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cart_compute_duration_seconds",
			Help:    "Time spent recomputing cart totals",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		},
	)

	cartSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cart_sessions_active",
			Help: "Number of cart sessions held in memory",
		},
	)
)
