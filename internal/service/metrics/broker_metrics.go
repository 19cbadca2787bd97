package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	BrokerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zepix",
			Subsystem: "broker",
			Name:      "latency_seconds",
			Help:      "Latency of broker bridge calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	BrokerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zepix",
			Subsystem: "broker",
			Name:      "errors_total",
			Help:      "Errors by broker bridge call",
		},
		[]string{"op"},
	)

	QuoteAge = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zepix",
			Subsystem: "quotes",
			Name:      "age_seconds",
			Help:      "Age of streamed quotes when served",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"symbol"},
	)
)

// Register adds the broker collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(BrokerLatency, BrokerErrors, QuoteAge)
	})
}
