package kafka

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type producerMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	f := promauto.With(reg)
	return &producerMetrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_producer_messages_published_total",
			Help: "Kafka messages written successfully.",
		}, []string{"topic"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_producer_publish_errors_total",
			Help: "Kafka writes that failed.",
		}, []string{"topic"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kafka_producer_publish_duration_seconds",
			Help:    "Time spent writing Kafka messages.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

// defaultProducerMetrics are shared by producers without their own registerer.
var defaultProducerMetrics = sync.OnceValue(func() *producerMetrics {
	return newProducerMetrics(prometheus.DefaultRegisterer)
})
