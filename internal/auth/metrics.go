// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors for this package.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	challenges      *prometheus.CounterVec
	validations     *prometheus.CounterVec
	sweptEntries    *prometheus.CounterVec
	keyRegistration *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Panics if registration fails (following prometheus convention).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		challenges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyauth_challenge_verifications_total",
				Help: "Total number of challenge verification attempts by result kind",
			},
			[]string{"result"},
		),
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyauth_session_validations_total",
				Help: "Total number of session validations by result kind",
			},
			[]string{"result"},
		),
		sweptEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyauth_swept_entries_total",
				Help: "Total number of expired entries removed by background sweeps",
			},
			[]string{"target"},
		),
		keyRegistration: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyauth_key_registrations_total",
				Help: "Total number of public key registration attempts",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.challenges, m.validations, m.sweptEntries, m.keyRegistration)
	}
	return m
}

// resultLabel maps err to a low-cardinality label value.
func resultLabel(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return OutcomeFailure
}

func (m *Metrics) recordChallenge(err error) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) recordValidation(err error) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) recordSweep(target string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptEntries.WithLabelValues(target).Add(float64(n))
}

func (m *Metrics) recordKeyRegistration(err error) {
	if m == nil {
		return
	}
	m.keyRegistration.WithLabelValues(resultLabel(err)).Inc()
}
