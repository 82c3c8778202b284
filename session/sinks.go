// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/vvatta/mcp-automatic-review/lib/evidence"
	"github.com/vvatta/mcp-automatic-review/lib/metrics"
	"github.com/vvatta/mcp-automatic-review/lib/publish"
)

// Sink receives a finished session. Sinks may annotate the report
// (the evidence sink records its digest) but never change findings or
// the score.
type Sink interface {
	Name() string
	Record(ctx context.Context, result *Result) error
}

// EvidenceSink writes the session's evidence archive and records the
// archive digest in the report.
type EvidenceSink struct {
	Path    string
	Options evidence.Options
}

func (s *EvidenceSink) Name() string { return "evidence" }

func (s *EvidenceSink) Record(_ context.Context, result *Result) error {
	bundle := evidence.Bundle{
		Session:      result.Report.Session,
		Capabilities: evidence.Capabilities(result.Capabilities),
		Invocations:  result.Invocations,
		Events:       result.Events,
		Findings:     result.Report.Findings,
		Report:       result.Report,
	}
	digest, err := evidence.WriteFile(s.Path, bundle, s.Options)
	if err != nil {
		return err
	}
	result.Report.EvidenceDigest = digest.String()
	return nil
}

// MetricsSink writes the session's metrics to a Prometheus textfile.
type MetricsSink struct {
	TextfilePath string
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Record(_ context.Context, result *Result) error {
	session := metrics.New()
	session.Observe(result.Report, result.Invocations, result.Events)
	return session.WriteTextfile(s.TextfilePath)
}

// PublishSink publishes the report and its findings.
type PublishSink struct {
	Publisher *publish.Publisher
}

func (s *PublishSink) Name() string { return "publish" }

func (s *PublishSink) Record(_ context.Context, result *Result) error {
	return s.Publisher.PublishReport(result.Report)
}
