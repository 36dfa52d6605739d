package retrieval

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for candidate retrieval.
type Metrics struct {
	Requests *prometheus.CounterVec
	Rows     *prometheus.CounterVec
	Errors   *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers retrieval metrics once per process.
//
// Metrics:
//   - lore_retrieval_requests_total{kind}
//   - lore_retrieval_rows_total{kind,phase} - rows contributed by fts, recent or named
//   - lore_retrieval_errors_total{kind,stage} - swallowed failures
//   - lore_retrieval_duration_seconds{kind}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "lore",
					Subsystem: "retrieval",
					Name:      "requests_total",
					Help:      "Total number of retrieval requests",
				},
				[]string{"kind"},
			),
			Rows: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "lore",
					Subsystem: "retrieval",
					Name:      "rows_total",
					Help:      "Rows returned, by the phase that selected them",
				},
				[]string{"kind", "phase"},
			),
			Errors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "lore",
					Subsystem: "retrieval",
					Name:      "errors_total",
					Help:      "Failures absorbed during retrieval",
				},
				[]string{"kind", "stage"},
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "lore",
					Subsystem: "retrieval",
					Name:      "duration_seconds",
					Help:      "Retrieval latency",
					Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
				},
				[]string{"kind"},
			),
		}
	})
	return globalMetrics
}
