package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// opsMetrics covers the ops server's own routes. Route labels are the mux
// patterns, so cardinality is bounded by the route table.
type opsMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	denied   *prometheus.CounterVec
}

var (
	defaultOpsMetricsOnce sync.Once
	defaultOpsMetrics     *opsMetrics
)

func newOpsMetrics(reg prometheus.Registerer) *opsMetrics {
	if reg == nil {
		defaultOpsMetricsOnce.Do(func() {
			defaultOpsMetrics = buildOpsMetrics(prometheus.DefaultRegisterer)
		})
		return defaultOpsMetrics
	}
	return buildOpsMetrics(reg)
}

func buildOpsMetrics(reg prometheus.Registerer) *opsMetrics {
	m := &opsMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gotrack_ops_requests_total",
			Help: "Ops server requests by route and response code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gotrack_ops_request_duration_seconds",
			Help:    "Ops server request latency by route.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"route"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gotrack_ops_admin_denied_total",
			Help: "Admin and profiling requests refused by the address allowlist.",
		}, []string{"route"}),
	}
	reg.MustRegister(m.requests, m.latency, m.denied)
	return m
}

func (m *opsMetrics) observe(route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
