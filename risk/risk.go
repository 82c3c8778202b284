// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package risk reduces a session's findings and the static scanner's
// summary to a score in [0,100] and a list of recommendations.
//
// [Score] is pure: the result depends only on the multiset of finding
// severities and categories and on the static summary, never on
// ordering, time, or any state outside its arguments.
package risk

import (
	"fmt"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Weights.
const (
	CriticalWeight = 30
	WarningWeight  = 10

	StaticCriticalWeight = 10
	StaticCriticalCap    = 40
	StaticHighWeight     = 5
	StaticHighCap        = 20

	MaxScore = 100
)

// Score thresholds for the banner recommendation.
const (
	criticalThreshold = 70
	cautionThreshold  = 40
)

// Recommendation texts that callers and tests match on.
const (
	RecommendDoNotDeploy = "DO NOT DEPLOY: server accessed planted credentials"
	RecommendCritical    = "CRITICAL: do not use this server in production"
	RecommendCaution     = "WARNING: use with extreme caution and review the findings"
	RecommendModerate    = "Moderate risk: address the findings before deployment"
)

// Score computes the scored portion of a report: the score, finding
// counts, recommendations, and the static summary and findings passed
// through. Session metadata is left for the caller.
func Score(findings []schema.Finding, static schema.StaticSummary) schema.RiskReport {
	var counts schema.SeverityCounts
	categories := make(map[schema.Category]int)
	for _, finding := range findings {
		switch finding.Severity {
		case schema.SeverityCritical:
			counts.Critical++
		case schema.SeverityWarning:
			counts.Warning++
		default:
			counts.Info++
		}
		categories[finding.Category]++
	}

	score := counts.Critical*CriticalWeight + counts.Warning*WarningWeight
	score += capped(static.Critical*StaticCriticalWeight, StaticCriticalCap)
	score += capped(static.High*StaticHighWeight, StaticHighCap)
	score = clamp(score)

	report := schema.RiskReport{
		OverallRiskScore: score,
		FindingCounts:    counts,
		Recommendations:  recommendations(score, categories, static),
		ScanSummary:      static,
		Findings:         append([]schema.Finding{}, findings...),
	}
	return report
}

func capped(value, limit int) int {
	if value < 0 {
		return 0
	}
	return min(value, limit)
}

func clamp(score int) int {
	return max(0, min(score, MaxScore))
}

func recommendations(score int, categories map[schema.Category]int, static schema.StaticSummary) []string {
	var result []string
	if categories[schema.CategoryHoneypotAccess] > 0 {
		result = append(result, RecommendDoNotDeploy)
	}
	switch {
	case score > criticalThreshold:
		result = append(result, RecommendCritical)
	case score > cautionThreshold:
		result = append(result, RecommendCaution)
	default:
		result = append(result, RecommendModerate)
	}

	if static.Critical > 0 {
		result = append(result, fmt.Sprintf("Fix %d critical dependency vulnerabilities", static.Critical))
	}
	if count := categories[schema.CategoryDataLeak]; count > 0 {
		result = append(result, fmt.Sprintf("Fix %d data leak(s): responses returned planted credential content", count))
	}
	if count := categories[schema.CategoryCommandExecution] + categories[schema.CategorySuspiciousProcess]; count > 0 {
		result = append(result, fmt.Sprintf("Review %d process spawn finding(s): the server ran shells or network tools", count))
	}
	if count := categories[schema.CategoryPathTraversal] + categories[schema.CategorySQLInjection]; count > 0 {
		result = append(result, fmt.Sprintf("Validate inputs: %d injection payload(s) changed the server's behavior", count))
	}
	if count := categories[schema.CategorySensitiveOutput] + categories[schema.CategoryCommandOutput]; count > 0 {
		result = append(result, fmt.Sprintf("Review %d response(s) that exposed host files or command output", count))
	}
	if count := categories[schema.CategorySuspiciousNetwork]; count > 0 {
		result = append(result, fmt.Sprintf("Review %d unexpected network destination(s)", count))
	}
	return result
}
