// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish sends finished risk reports to NATS so that
// downstream systems (dashboards, gatekeeping pipelines) can react to
// a verdict without parsing CLI output.
//
// Each session produces one message on <prefix>.reports carrying the
// full report, and one message per finding on <prefix>.findings.
// Metadata needed for routing is duplicated into NATS headers.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
	"github.com/vvatta/mcp-automatic-review/lib/version"
)

// Connection is the subset of *nats.Conn the publisher uses.
type Connection interface {
	PublishMsg(message *nats.Msg) error
	Flush() error
	Close()
}

// Publisher publishes reports to NATS subjects under a prefix.
type Publisher struct {
	connection Connection
	prefix     string
	logger     *slog.Logger
}

// Connect dials url and returns a Publisher.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	connection, err := nats.Connect(url,
		nats.Name(version.ClientName),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return New(connection, prefix, logger), nil
}

// New wraps an existing connection.
func New(connection Connection, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "mcpsandbox"
	}
	return &Publisher{connection: connection, prefix: prefix, logger: logger}
}

// ReportsSubject is the subject full reports are published on.
func (p *Publisher) ReportsSubject() string { return p.prefix + ".reports" }

// FindingsSubject is the subject individual findings are published on.
func (p *Publisher) FindingsSubject() string { return p.prefix + ".findings" }

// PublishReport publishes the report and each of its findings, then
// flushes. Finding publication continues past individual failures;
// all failures are returned joined.
func (p *Publisher) PublishReport(report schema.RiskReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	headers := nats.Header{}
	headers.Set("x-session-id", report.Session.ID)
	headers.Set("x-status", string(report.Status))
	headers.Set("x-risk-score", strconv.Itoa(report.OverallRiskScore))
	if err := p.connection.PublishMsg(&nats.Msg{Subject: p.ReportsSubject(), Data: data, Header: headers}); err != nil {
		return fmt.Errorf("publishing report: %w", err)
	}

	var errs []error
	for _, finding := range report.Findings {
		if err := p.publishFinding(report.Session.ID, finding); err != nil {
			errs = append(errs, fmt.Errorf("finding %s: %w", finding.ID, err))
		}
	}
	if err := p.connection.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flushing: %w", err))
	}

	p.logger.Info("published report",
		"session_id", report.Session.ID,
		"subject", p.ReportsSubject(),
		"findings", len(report.Findings),
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

func (p *Publisher) publishFinding(sessionID string, finding schema.Finding) error {
	data, err := json.Marshal(finding)
	if err != nil {
		return fmt.Errorf("marshaling finding: %w", err)
	}
	headers := nats.Header{}
	headers.Set("x-session-id", sessionID)
	headers.Set("x-finding-id", finding.ID)
	headers.Set("x-category", string(finding.Category))
	headers.Set("x-severity", string(finding.Severity))
	return p.connection.PublishMsg(&nats.Msg{Subject: p.FindingsSubject(), Data: data, Header: headers})
}

// Close closes the connection.
func (p *Publisher) Close() {
	p.connection.Close()
}
