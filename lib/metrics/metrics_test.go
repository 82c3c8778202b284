// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

func TestObserve(t *testing.T) {
	t.Parallel()

	session := New()
	report := schema.RiskReport{
		Status:           schema.StatusTimedOut,
		OverallRiskScore: 60,
		ExecutionSeconds: 12.5,
		DegradedSignals:  []string{"network"},
		Findings: []schema.Finding{
			{Category: schema.CategoryCommandExecution, Severity: schema.SeverityCritical},
			{Category: schema.CategoryCommandExecution, Severity: schema.SeverityCritical},
			{Category: schema.CategorySuspiciousNetwork, Severity: schema.SeverityWarning},
		},
	}
	invocations := []schema.Invocation{
		{Outcome: schema.OutcomeOK},
		{Outcome: schema.OutcomeTimeout},
		{Outcome: schema.OutcomeTimeout},
	}
	events := []schema.Event{{Kind: schema.EventProcess}, {Kind: schema.EventFilesystem}}

	session.Observe(report, invocations, events)

	if got := promtestutil.ToFloat64(session.invocations.WithLabelValues("timeout")); got != 2 {
		t.Errorf("timeout invocations = %v, want 2", got)
	}
	if got := promtestutil.ToFloat64(session.findings.WithLabelValues("command-execution", "CRITICAL")); got != 2 {
		t.Errorf("command-execution findings = %v, want 2", got)
	}
	if got := promtestutil.ToFloat64(session.riskScore); got != 60 {
		t.Errorf("risk score = %v, want 60", got)
	}
	if got := promtestutil.ToFloat64(session.completed.WithLabelValues("TIMED_OUT")); got != 1 {
		t.Errorf("TIMED_OUT status gauge = %v, want 1", got)
	}
	if got := promtestutil.ToFloat64(session.degraded.WithLabelValues("network")); got != 1 {
		t.Errorf("network degraded = %v, want 1", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	session := New()
	session.Observe(schema.RiskReport{Status: schema.StatusCompleted, OverallRiskScore: 10}, nil, nil)

	path := filepath.Join(t.TempDir(), "mcp_sandbox.prom")
	if err := session.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	if !strings.Contains(string(data), "mcp_sandbox_risk_score 10") {
		t.Fatalf("textfile missing risk score:\n%s", data)
	}
}
