package signals

import "github.com/prometheus/client_golang/prometheus"

type dispatchMetrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

func newDispatchMetrics(reg prometheus.Registerer) *dispatchMetrics {
	m := &dispatchMetrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gotrack",
			Subsystem: "signals",
			Name:      "dispatch_total",
			Help:      "Total number of signal handler invocations.",
		}, []string{"entity", "handler", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gotrack",
			Subsystem: "signals",
			Name:      "dispatch_duration_seconds",
			Help:      "Signal handler latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity", "handler"}),
	}
	if reg != nil {
		reg.MustRegister(m.dispatchTotal, m.dispatchDuration)
	}
	return m
}
