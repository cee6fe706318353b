package mediawiki

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts upstream API calls. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikiembed_upstream_requests_total",
			Help: "Wiki API requests by action and outcome",
		}, []string{"action", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wikiembed_upstream_request_seconds",
			Help:    "Wiki API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

func (m *Metrics) observe(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(d.Seconds())
}
