// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/vvatta/mcp-automatic-review/lib/codec"
	"github.com/vvatta/mcp-automatic-review/lib/evidence"
)

func evidenceCmd(args []string) error {
	var identityPath string
	var diagnose, reportOnly bool
	flagSet := pflag.NewFlagSet("evidence", pflag.ContinueOnError)
	flagSet.StringVar(&identityPath, "identity", "", "age identity file for encrypted archives")
	flagSet.BoolVar(&diagnose, "diagnose", false, "print the archive body in CBOR diagnostic notation")
	flagSet.BoolVar(&reportOnly, "report", false, "print only the archived report as JSON")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, `mcp-sandbox evidence - Inspect a session evidence archive

USAGE
    mcp-sandbox evidence [flags] <archive>

FLAGS
`)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return fmt.Errorf("exactly one archive path is required")
	}

	identities, err := readIdentities(identityPath)
	if err != nil {
		return err
	}
	bundle, digest, err := evidence.ReadFile(flagSet.Arg(0), identities)
	if err != nil {
		return err
	}

	switch {
	case diagnose:
		body, err := codec.Marshal(bundle)
		if err != nil {
			return err
		}
		notation, err := codec.Diagnose(body)
		if err != nil {
			return fmt.Errorf("diagnosing archive body: %w", err)
		}
		fmt.Println(notation)
	case reportOnly:
		report := bundle.Report
		report.EvidenceDigest = digest.String()
		return encodeReport(os.Stdout, report)
	default:
		printBundleSummary(os.Stdout, bundle, digest)
	}
	return nil
}

// readIdentities returns the non-comment lines of an age identity
// file.
func readIdentities(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	var identities []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identities = append(identities, line)
	}
	return identities, nil
}

func printBundleSummary(w io.Writer, bundle *evidence.Bundle, digest evidence.Digest) {
	report := bundle.Report
	fmt.Fprintf(w, "Session:      %s\n", bundle.Session.ID)
	fmt.Fprintf(w, "Status:       %s\n", report.Status)
	fmt.Fprintf(w, "Digest:       %s\n", digest)
	fmt.Fprintf(w, "Risk score:   %d/100\n", report.OverallRiskScore)
	fmt.Fprintf(w, "Capabilities: %d\n", len(bundle.Capabilities))
	fmt.Fprintf(w, "Invocations:  %d\n", len(bundle.Invocations))
	fmt.Fprintf(w, "Events:       %d\n", len(bundle.Events))
	fmt.Fprintf(w, "Findings:     %d (critical %d, warning %d)\n",
		len(bundle.Findings), report.FindingCounts.Critical, report.FindingCounts.Warning)
	for _, finding := range bundle.Findings {
		fmt.Fprintf(w, "  [%s] %s: %s\n", finding.Severity, finding.Category, finding.Title)
	}
	for _, signal := range report.DegradedSignals {
		fmt.Fprintf(w, "Degraded:     %s\n", signal)
	}
	for _, note := range report.Notes {
		fmt.Fprintf(w, "Note:         %s\n", note)
	}
}
