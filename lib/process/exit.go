// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Exit codes returned by mcp-sandbox analyze.
const (
	ExitOK = 0

	// ExitError is a setup error: bad flags, unreadable config.
	ExitError = 1

	// ExitSessionFailed is a session that ended FAILED or TIMED_OUT.
	ExitSessionFailed = 2

	// ExitRiskThreshold is a completed session whose score reached
	// the --fail-above threshold.
	ExitRiskThreshold = 3
)

// Fatal writes "error: err" to stderr and exits with ExitError. Use it
// in main() for errors from run() where the logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitError)
}

// ExitCode maps a report to an exit code. A threshold <= 0 disables
// the risk check.
func ExitCode(report schema.RiskReport, threshold int) int {
	if report.Status != schema.StatusCompleted {
		return ExitSessionFailed
	}
	if threshold > 0 && report.OverallRiskScore >= threshold {
		return ExitRiskThreshold
	}
	return ExitOK
}
