package service

import "github.com/prometheus/client_golang/prometheus"

const (
	receiverRelease = "release_reconciler"
	receiverExpiry  = "resolution_expiry"
	receiverCommit  = "commit_resolution"
)

type receiverMetrics struct {
	outcomes *prometheus.CounterVec
}

func newReceiverMetrics(reg prometheus.Registerer) *receiverMetrics {
	m := &receiverMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gotrack",
			Subsystem: "receivers",
			Name:      "outcomes_total",
			Help:      "Handled write notifications by receiver and outcome.",
		}, []string{"receiver", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes)
	}
	return m
}

func (m *receiverMetrics) observe(receiver, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(receiver, outcome).Inc()
}
