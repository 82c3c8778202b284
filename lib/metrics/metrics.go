// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics records per-session counters in a Prometheus
// registry and exports them in the node_exporter textfile format.
//
// The analyzer is a batch job, not a server, so nothing is scraped
// directly. After each session the CLI writes the registry to the
// configured textfile path, where a node_exporter textfile collector
// picks it up.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

const namespace = "mcp_sandbox"

// Session holds the metrics of one analysis session. Each Session
// owns its registry; there is no process-wide state.
type Session struct {
	registry *prometheus.Registry

	invocations *prometheus.CounterVec
	findings    *prometheus.CounterVec
	events      *prometheus.CounterVec
	degraded    *prometheus.GaugeVec
	riskScore   prometheus.Gauge
	duration    prometheus.Gauge
	completed   *prometheus.GaugeVec
}

// New creates a Session with all metrics registered.
func New() *Session {
	session := &Session{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Capability invocations by outcome.",
		}, []string{"outcome"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings by category and severity.",
		}, []string{"category", "severity"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_total",
			Help:      "Telemetry events by kind.",
		}, []string{"kind"}),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_degraded",
			Help:      "1 when the named collector failed or degraded.",
		}, []string{"collector"}),
		riskScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Overall risk score of the last session.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of the last session.",
		}),
		completed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_status",
			Help:      "1 for the terminal status of the last session.",
		}, []string{"status"}),
	}
	session.registry.MustRegister(
		session.invocations,
		session.findings,
		session.events,
		session.degraded,
		session.riskScore,
		session.duration,
		session.completed,
	)
	return session
}

// Registry returns the underlying registry.
func (s *Session) Registry() *prometheus.Registry {
	return s.registry
}

// Observe records a finished session.
func (s *Session) Observe(report schema.RiskReport, invocations []schema.Invocation, events []schema.Event) {
	for _, invocation := range invocations {
		s.invocations.WithLabelValues(string(invocation.Outcome)).Inc()
	}
	for _, finding := range report.Findings {
		s.findings.WithLabelValues(string(finding.Category), string(finding.Severity)).Inc()
	}
	for _, event := range events {
		s.events.WithLabelValues(string(event.Kind)).Inc()
	}
	for _, collector := range report.DegradedSignals {
		s.degraded.WithLabelValues(collector).Set(1)
	}
	s.riskScore.Set(float64(report.OverallRiskScore))
	s.duration.Set(report.ExecutionSeconds)
	for _, status := range []schema.Status{schema.StatusCompleted, schema.StatusFailed, schema.StatusTimedOut} {
		value := 0.0
		if report.Status == status {
			value = 1
		}
		s.completed.WithLabelValues(string(status)).Set(value)
	}
}

// WriteTextfile writes the registry to path atomically.
func (s *Session) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
