package algorithm

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsAlgorithm struct {
	once sync.Once

	runs             *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	pipelines        *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
}

var algMetrics metricsAlgorithm

func (m *metricsAlgorithm) init() {
	m.once.Do(func() {
		buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

		m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqdata_algorithm_runs_total",
			Help: "Algorithm executions by algorithm and status",
		}, []string{"algorithm", "status"})
		m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sqdata_algorithm_seconds",
			Help:    "Algorithm execution time",
			Buckets: buckets,
		}, []string{"algorithm"})
		m.pipelines = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqdata_pipeline_runs_total",
			Help: "Pipeline executions by status",
		}, []string{"status"})
		m.pipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sqdata_pipeline_seconds",
			Help:    "Pipeline execution time",
			Buckets: buckets,
		})

		prometheus.MustRegister(m.runs, m.duration, m.pipelines, m.pipelineDuration)
	})
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func observeAlgorithm(name string, ok bool, d time.Duration) {
	algMetrics.init()
	algMetrics.runs.WithLabelValues(name, status(ok)).Inc()
	algMetrics.duration.WithLabelValues(name).Observe(d.Seconds())
}

func observePipeline(ok bool, d time.Duration) {
	algMetrics.init()
	algMetrics.pipelines.WithLabelValues(status(ok)).Inc()
	algMetrics.pipelineDuration.Observe(d.Seconds())
}
