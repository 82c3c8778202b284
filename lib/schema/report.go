// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// Status is the terminal state of a session.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Session identifies one analysis run.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Status    Status    `json:"status"`
}

// StaticSummary is the vulnerability summary produced by the static
// scanner. It is passed through to the report and feeds the score.
type StaticSummary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// FuzzingSummary counts invocations by what they revealed.
type FuzzingSummary struct {
	TotalTests int `json:"total_tests"`

	// LeakedData counts invocations attributed a data-leak or
	// honeypot-access finding.
	LeakedData int `json:"leaked_data"`

	// Suspicious counts invocations attributed any other finding.
	Suspicious int `json:"suspicious"`
}

// SeverityCounts counts findings by severity.
type SeverityCounts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// BehaviorSummary counts telemetry events by kind.
type BehaviorSummary struct {
	TotalEvents      int `json:"total_events"`
	NetworkEvents    int `json:"network_events"`
	FilesystemEvents int `json:"filesystem_events"`
	ProcessEvents    int `json:"process_events"`
	CriticalEvents   int `json:"critical_events"`
	WarningEvents    int `json:"warning_events"`
}

// RiskReport is the output of a session.
type RiskReport struct {
	Session          Session         `json:"session"`
	Status           Status          `json:"status"`
	OverallRiskScore int             `json:"overall_risk_score"`
	FindingCounts    SeverityCounts  `json:"finding_counts"`
	Recommendations  []string        `json:"recommendations"`
	ScanSummary      StaticSummary   `json:"scan_summary"`
	FuzzingSummary   FuzzingSummary  `json:"fuzzing_summary"`
	BehaviorSummary  BehaviorSummary `json:"behavior_summary"`

	// DegradedSignals names the collectors that failed or degraded.
	DegradedSignals []string `json:"degraded_signals,omitempty"`

	// Notes carries non-fatal conditions the reader should know about,
	// such as skipped phases.
	Notes []string `json:"notes,omitempty"`

	Findings []Finding `json:"findings"`

	ExecutionSeconds float64 `json:"execution_time"`

	// EvidenceDigest is the BLAKE3 digest of the evidence archive when
	// one was written.
	EvidenceDigest string `json:"evidence_digest,omitempty"`
}
