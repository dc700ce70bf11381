package catalog

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsCatalog struct {
	once sync.Once

	resolves        *prometheus.CounterVec
	resolveDuration prometheus.Histogram
}

var catMetrics metricsCatalog

func (m *metricsCatalog) init() {
	m.once.Do(func() {
		m.resolves = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqdata_catalog_resolves_total",
			Help: "Dataset materializations by outcome",
		}, []string{"outcome"})
		m.resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sqdata_catalog_resolve_seconds",
			Help:    "Time spent materializing a dataset",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		})
		prometheus.MustRegister(m.resolves, m.resolveDuration)
	})
}

func observeResolve(start time.Time, err error) {
	catMetrics.init()
	outcome := "loaded"
	if err != nil {
		outcome = "failed"
	}
	catMetrics.resolves.WithLabelValues(outcome).Inc()
	catMetrics.resolveDuration.Observe(time.Since(start).Seconds())
}
