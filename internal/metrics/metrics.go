// Package metrics holds the relay's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kabletop_relay"

type Metrics struct {
	sessions      prometheus.Gauge
	advertised    prometheus.Gauge
	pairings      prometheus.Gauge
	calls         *prometheus.CounterVec
	callLatency   *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live transport sessions.",
		}),
		advertised: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "advertised_clients",
			Help:      "Clients waiting in the lobby.",
		}),
		pairings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pairings",
			Help:      "Established pairings.",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Inbound RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Inbound RPC latency, including the partner round trip for forwarded calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"method"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partner_notifications_total",
			Help:      "partner_disconnect notifications by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.advertised, m.pairings, m.calls, m.callLatency, m.notifications)
	}
	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *Metrics) ObserveLobby(advertised, pairings int) {
	if m == nil {
		return
	}
	m.advertised.Set(float64(advertised))
	m.pairings.Set(float64(pairings))
}

// ObserveCall records one inbound call and how it ended.
func (m *Metrics) ObserveCall(method string, start time.Time, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.callLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (m *Metrics) PartnerNotified(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
