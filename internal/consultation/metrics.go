package consultation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	operationsTotal *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		operationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consultation_operations_total",
				Help: "Coordinator operations by name and result",
			},
			[]string{"operation", "result"},
		)
	})
}

// observe records the outcome of an operation. Rejections are labelled with
// their error code so dashboards can tell races from bugs.
func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = CodeOf(err)
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}
