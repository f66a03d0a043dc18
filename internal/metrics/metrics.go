// Package metrics exposes Prometheus collectors for decision outcomes,
// VRF session transitions, and challenge-refresh retries.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector this module registers.
type Metrics struct {
	DecisionsTotal      *prometheus.CounterVec
	SessionTransitions  *prometheus.CounterVec
	VRFChallengeRefresh *prometheus.HistogramVec
	ActiveSessionsGauge prometheus.Gauge
}

// New builds a Metrics instance registered against prometheus's default
// registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Metrics instance registered against registerer,
// used by tests to avoid colliding with the global default registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secureconfirm_decisions_total",
				Help: "Total SecureConfirm decisions by request type, confirmation, and error kind.",
			},
			[]string{"type", "confirmed", "error_kind"},
		),
		SessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secureconfirm_vrf_session_transitions_total",
				Help: "Total VRF signing session state transitions.",
			},
			[]string{"from", "to"},
		),
		VRFChallengeRefresh: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secureconfirm_vrf_challenge_refresh_attempts",
				Help:    "Number of attempts taken to JIT-refresh a VRF challenge.",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"outcome"},
		),
		ActiveSessionsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "secureconfirm_vrf_active_sessions",
				Help: "Current count of active VRF signing sessions.",
			},
		),
	}

	registerer.MustRegister(
		m.DecisionsTotal,
		m.SessionTransitions,
		m.VRFChallengeRefresh,
		m.ActiveSessionsGauge,
	)
	return m
}

// RecordDecision increments the decision counter for a terminal
// SecureConfirm response.
func (m *Metrics) RecordDecision(reqType string, confirmed bool, errorKind string) {
	confirmedLabel := "false"
	if confirmed {
		confirmedLabel = "true"
	}
	m.DecisionsTotal.WithLabelValues(reqType, confirmedLabel, errorKind).Inc()
}

// RecordSessionTransition increments the session-transition counter and
// adjusts the active-sessions gauge.
func (m *Metrics) RecordSessionTransition(from, to string) {
	m.SessionTransitions.WithLabelValues(from, to).Inc()
	switch {
	case to == "active" && from != "active":
		m.ActiveSessionsGauge.Inc()
	case from == "active" && to != "active":
		m.ActiveSessionsGauge.Dec()
	}
}

// RecordVRFChallengeRefreshAttempts records how many attempts a JIT
// challenge refresh took before resolving with outcome ("success" or
// "failed").
func (m *Metrics) RecordVRFChallengeRefreshAttempts(attempts int, outcome string) {
	m.VRFChallengeRefresh.WithLabelValues(outcome).Observe(float64(attempts))
}
