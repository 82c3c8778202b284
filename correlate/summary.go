// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

import "github.com/vvatta/mcp-automatic-review/lib/schema"

// Classify returns a copy of invocations with Classification set:
// flagged when any WARNING or CRITICAL finding names the invocation,
// clean otherwise.
func Classify(invocations []schema.Invocation, findings []schema.Finding) []schema.Invocation {
	flagged := make(map[int]bool)
	for _, finding := range findings {
		if finding.Severity == schema.SeverityInfo {
			continue
		}
		for _, sequence := range finding.Invocations {
			flagged[sequence] = true
		}
	}
	result := make([]schema.Invocation, len(invocations))
	for index, invocation := range invocations {
		invocation.Classification = schema.ClassificationClean
		if flagged[invocation.Sequence] {
			invocation.Classification = schema.ClassificationFlagged
		}
		result[index] = invocation
	}
	return result
}

// Summarize counts invocations by what their findings revealed. An
// invocation with both a leak and another finding counts as leaked.
// INFO findings are not counted.
func Summarize(invocations []schema.Invocation, findings []schema.Finding) schema.FuzzingSummary {
	leaked := make(map[int]bool)
	suspicious := make(map[int]bool)
	for _, finding := range findings {
		if finding.Severity == schema.SeverityInfo {
			continue
		}
		for _, sequence := range finding.Invocations {
			switch finding.Category {
			case schema.CategoryDataLeak, schema.CategoryHoneypotAccess, schema.CategorySensitiveOutput:
				leaked[sequence] = true
			default:
				suspicious[sequence] = true
			}
		}
	}
	for sequence := range leaked {
		delete(suspicious, sequence)
	}
	return schema.FuzzingSummary{
		TotalTests: len(invocations),
		LeakedData: len(leaked),
		Suspicious: len(suspicious),
	}
}

// Behavior counts telemetry events by kind and severity.
func Behavior(events []schema.Event) schema.BehaviorSummary {
	summary := schema.BehaviorSummary{TotalEvents: len(events)}
	for _, event := range events {
		switch event.Kind {
		case schema.EventNetwork:
			summary.NetworkEvents++
		case schema.EventFilesystem:
			summary.FilesystemEvents++
		case schema.EventProcess:
			summary.ProcessEvents++
		}
		switch event.Severity {
		case schema.SeverityCritical:
			summary.CriticalEvents++
		case schema.SeverityWarning:
			summary.WarningEvents++
		}
	}
	return summary
}
