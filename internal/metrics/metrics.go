// Package metrics holds the Prometheus collectors of the research console.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Research outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeTimeout     = "timeout"
	OutcomeMaxAttempts = "max_attempts"
	OutcomeResultFetch = "result_fetch_failed"
	OutcomeStopped     = "stopped"
)

type Metrics struct {
	registry *prometheus.Registry

	researchStarted  *prometheus.CounterVec
	researchFinished *prometheus.CounterVec
	researchDuration *prometheus.HistogramVec
	pollAttempts     *prometheus.HistogramVec
	pollErrors       prometheus.Counter
	activeResearch   prometheus.Gauge
	activeSessions   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		researchStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesintel",
			Name:      "research_started_total",
			Help:      "Research operations started, by area.",
		}, []string{"area"}),
		researchFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesintel",
			Name:      "research_finished_total",
			Help:      "Research operations finished, by area and outcome.",
		}, []string{"area", "outcome"}),
		researchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salesintel",
			Name:      "research_duration_seconds",
			Help:      "Wall-clock time from session creation to results.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"area"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salesintel",
			Name:      "research_poll_attempts",
			Help:      "Status polls needed per research operation.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 60},
		}, []string{"outcome"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salesintel",
			Name:      "research_poll_errors_total",
			Help:      "Status polls that failed and were retried.",
		}),
		activeResearch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "salesintel",
			Name:      "research_active",
			Help:      "Research operations currently polling.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "salesintel",
			Name:      "console_sessions_active",
			Help:      "Console sessions held in memory.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.researchStarted,
		m.researchFinished,
		m.researchDuration,
		m.pollAttempts,
		m.pollErrors,
		m.activeResearch,
		m.activeSessions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ResearchStarted(area string) {
	if m == nil {
		return
	}
	m.researchStarted.WithLabelValues(area).Inc()
	m.activeResearch.Inc()
}

func (m *Metrics) ResearchFinished(area, outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.researchFinished.WithLabelValues(area, outcome).Inc()
	m.pollAttempts.WithLabelValues(outcome).Observe(float64(attempts))
	if outcome == OutcomeCompleted {
		m.researchDuration.WithLabelValues(area).Observe(elapsed.Seconds())
	}
	m.activeResearch.Dec()
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
