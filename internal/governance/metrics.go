package governance

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for governance operations.
type Metrics struct {
	Actions *prometheus.CounterVec
	Errors  *prometheus.CounterVec
}

// NewMetrics registers governance metrics once per process.
//
// Metrics:
//   - lore_governance_actions_total{op,action}
//   - lore_governance_errors_total{op,code}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Actions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "lore",
					Subsystem: "governance",
					Name:      "actions_total",
					Help:      "Per-entity governance actions, planned or applied",
				},
				[]string{"op", "action"},
			),
			Errors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "lore",
					Subsystem: "governance",
					Name:      "errors_total",
					Help:      "Per-item governance failures by error code",
				},
				[]string{"op", "code"},
			),
		}
	})
	return globalMetrics
}
