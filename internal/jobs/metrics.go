package jobs

import "github.com/prometheus/client_golang/prometheus"

type workerMetrics struct {
	processedTotal  *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
}

func newWorkerMetrics(reg prometheus.Registerer) *workerMetrics {
	m := &workerMetrics{
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gotrack",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total number of jobs processed by outcome.",
		}, []string{"task", "outcome"}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gotrack",
			Subsystem: "jobs",
			Name:      "process_duration_seconds",
			Help:      "Job processing latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
	if reg != nil {
		reg.MustRegister(m.processedTotal, m.processDuration)
	}
	return m
}
