// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

type fakeConnection struct {
	messages []*nats.Msg
	failOn   string
	flushed  int
	closed   bool
}

func (c *fakeConnection) PublishMsg(message *nats.Msg) error {
	if c.failOn != "" && message.Header.Get("x-finding-id") == c.failOn {
		return errors.New("publish rejected")
	}
	c.messages = append(c.messages, message)
	return nil
}

func (c *fakeConnection) Flush() error { c.flushed++; return nil }

func (c *fakeConnection) Close() { c.closed = true }

func sampleReport() schema.RiskReport {
	return schema.RiskReport{
		Session:          schema.Session{ID: "session-7"},
		Status:           schema.StatusCompleted,
		OverallRiskScore: 70,
		Findings: []schema.Finding{
			{ID: "f-1", Category: schema.CategoryHoneypotAccess, Severity: schema.SeverityCritical},
			{ID: "f-2", Category: schema.CategorySuspiciousNetwork, Severity: schema.SeverityWarning},
		},
	}
}

func TestPublishReport(t *testing.T) {
	t.Parallel()

	connection := &fakeConnection{}
	publisher := New(connection, "", nil)
	if err := publisher.PublishReport(sampleReport()); err != nil {
		t.Fatalf("PublishReport: %v", err)
	}

	if len(connection.messages) != 3 {
		t.Fatalf("published %d messages, want 3", len(connection.messages))
	}
	report := connection.messages[0]
	if report.Subject != "mcpsandbox.reports" {
		t.Errorf("report subject = %q", report.Subject)
	}
	if report.Header.Get("x-risk-score") != "70" || report.Header.Get("x-session-id") != "session-7" {
		t.Errorf("report headers = %v", report.Header)
	}
	var decoded schema.RiskReport
	if err := json.Unmarshal(report.Data, &decoded); err != nil {
		t.Fatalf("report payload: %v", err)
	}
	if decoded.OverallRiskScore != 70 {
		t.Errorf("decoded score = %d", decoded.OverallRiskScore)
	}

	finding := connection.messages[1]
	if finding.Subject != "mcpsandbox.findings" || finding.Header.Get("x-category") != "honeypot-access" {
		t.Errorf("finding message = %s %v", finding.Subject, finding.Header)
	}
	if connection.flushed != 1 {
		t.Errorf("flushed %d times, want 1", connection.flushed)
	}

	publisher.Close()
	if !connection.closed {
		t.Error("Close did not close the connection")
	}
}

func TestPublishReportContinuesPastFindingFailure(t *testing.T) {
	t.Parallel()

	connection := &fakeConnection{failOn: "f-1"}
	publisher := New(connection, "audit", nil)
	err := publisher.PublishReport(sampleReport())
	if err == nil {
		t.Fatal("expected error for rejected finding")
	}
	if len(connection.messages) != 2 {
		t.Fatalf("published %d messages, want report plus the surviving finding", len(connection.messages))
	}
	if connection.messages[1].Header.Get("x-finding-id") != "f-2" {
		t.Errorf("second message = %v", connection.messages[1].Header)
	}
	if connection.messages[0].Subject != "audit.reports" {
		t.Errorf("subject = %q, want audit.reports", connection.messages[0].Subject)
	}
}
