// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Category classifies a finding.
type Category string

const (
	CategoryDataLeak          Category = "data-leak"
	CategoryCommandExecution  Category = "command-execution"
	CategoryPathTraversal     Category = "path-traversal-success"
	CategorySQLInjection      Category = "sql-injection-success"
	CategoryHoneypotAccess    Category = "honeypot-access"
	CategorySuspiciousNetwork Category = "suspicious-network"
	CategorySuspiciousProcess Category = "suspicious-process"

	// Reported at WARNING when a response carries host file content
	// or command output that no planted decoy accounts for.
	CategorySensitiveOutput Category = "sensitive-output"
	CategoryCommandOutput   Category = "command-output"

	// Informational: filesystem activity outside the allow-list that
	// touched no decoy, and error patterns in the server's stderr.
	CategoryFilesystemAccess Category = "filesystem-access"
	CategoryServerError      Category = "server-error"
)

// Scope says whether a finding is tied to specific invocations or to
// the session as a whole (ambient telemetry).
type Scope string

const (
	ScopeInvocation Scope = "invocation"
	ScopeSession    Scope = "session"
)

// Finding is a classified security-relevant outcome.
type Finding struct {
	// ID is derived from the session ID and the finding's position in
	// correlator output, so identical inputs produce identical IDs.
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Scope    Scope    `json:"scope"`

	// Invocations holds the sequence numbers of contributing
	// invocations. Empty for session-scoped findings.
	Invocations []int `json:"invocations,omitempty"`

	// Events references contributing telemetry events.
	Events []EventRef `json:"events,omitempty"`

	// Evidence holds short human-readable facts (paths, argv,
	// destinations) supporting the classification.
	Evidence []string `json:"evidence,omitempty"`
}
