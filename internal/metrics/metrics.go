// Package metrics holds the Prometheus collectors for verification,
// settlement and suggestion traffic. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stakeproof"

type Metrics struct {
	Registry *prometheus.Registry

	verdicts          *prometheus.CounterVec
	votes             prometheus.Counter
	assessments       *prometheus.CounterVec
	assessmentLatency prometheus.Histogram
	settlements       *prometheus.CounterVec
	suggestions       *prometheus.CounterVec
	queueDepth        prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Finalized evidence verdicts by result.",
		}, []string{"result"}),
		votes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Accepted community votes.",
		}),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Automated evidence assessments by outcome.",
		}, []string{"outcome"}),
		assessmentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "Latency of assessment provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mission_settlements_total",
			Help:      "Reviewed missions by terminal status.",
		}, []string{"status"}),
		suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_requests_total",
			Help:      "Suggestion requests by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assessment_queue_depth",
			Help:      "Evidence items waiting for an assessment worker.",
		}),
	}
	reg.MustRegister(m.verdicts, m.votes, m.assessments, m.assessmentLatency, m.settlements, m.suggestions, m.queueDepth)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Verdict(result string) {
	if m != nil {
		m.verdicts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Vote() {
	if m != nil {
		m.votes.Inc()
	}
}

// Assessment records one provider call; outcome is "ok" or "failed".
func (m *Metrics) Assessment(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(outcome).Inc()
	m.assessmentLatency.Observe(took.Seconds())
}

func (m *Metrics) Settlement(status string) {
	if m != nil {
		m.settlements.WithLabelValues(status).Inc()
	}
}

// Suggestion counts generated, cached, rerolled and rate_limited requests.
func (m *Metrics) Suggestion(outcome string) {
	if m != nil {
		m.suggestions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}
