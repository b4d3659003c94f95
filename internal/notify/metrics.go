package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	publishedTotal  *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	observersGauge  prometheus.Gauge
)

func initMetrics() {
	metricsOnce.Do(func() {
		publishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notify_published_total",
				Help: "Events published, by channel namespace",
			},
			[]string{"namespace"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notify_deliveries_total",
				Help: "Frames handed to observers, by result",
			},
			[]string{"result"},
		)

		observersGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "notify_observers",
			Help: "Observers with at least one channel membership",
		})
	})
}
