package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks assertion outcomes and consent latency. Nil receivers
// are no-ops so tests can run without a registry.
type Metrics struct {
	assertions     *prometheus.CounterVec
	consentSeconds prometheus.Histogram
	openSessions   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		assertions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attestd",
			Name:      "assertions_total",
			Help:      "Assertion requests by terminal result.",
		}, []string{"result"}),
		consentSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attestd",
			Name:      "consent_decision_seconds",
			Help:      "Time from consent prompt to terminal session state.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attestd",
			Name:      "consent_sessions_open",
			Help:      "Consent sessions currently awaiting a decision.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.assertions, m.consentSeconds, m.openSessions)
	}
	return m
}

func (m *Metrics) RecordAssertion(result string) {
	if m == nil {
		return
	}
	m.assertions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveConsent(started time.Time) {
	if m == nil {
		return
	}
	m.consentSeconds.Observe(time.Since(started).Seconds())
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.openSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.openSessions.Dec()
}
