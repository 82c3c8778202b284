// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// maxListedFindings bounds the findings section. The JSON report
// always carries the full list.
const maxListedFindings = 20

// NewRenderer returns a lipgloss renderer writing 256-color output to
// w. The profile is fixed rather than detected so the summary colors
// do not depend on where stdout points.
func NewRenderer(w io.Writer) *lipgloss.Renderer {
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(termenv.ANSI256))
	renderer.SetColorProfile(termenv.ANSI256)
	return renderer
}

// RenderSummary formats a human-readable summary of report: status,
// score, counts, recommendations, and the most severe findings.
func RenderSummary(report schema.RiskReport, theme Theme, renderer *lipgloss.Renderer) string {
	header := renderer.NewStyle().Bold(true).Foreground(theme.HeaderForeground)
	faint := renderer.NewStyle().Foreground(theme.FaintText)
	normal := renderer.NewStyle().Foreground(theme.NormalText)
	rule := renderer.NewStyle().Foreground(theme.BorderColor).Render(strings.Repeat("─", 48))

	var builder strings.Builder
	builder.WriteString(header.Render("MCP sandbox report"))
	builder.WriteString(" ")
	builder.WriteString(faint.Render(report.Session.ID))
	builder.WriteString("\n")
	builder.WriteString(rule)
	builder.WriteString("\n")

	status := renderer.NewStyle().Bold(true).Foreground(theme.StatusColor(report.Status))
	score := renderer.NewStyle().Bold(true).Foreground(theme.ScoreColor(report.OverallRiskScore))
	fmt.Fprintf(&builder, "%s %s   %s %s\n",
		faint.Render("status"), status.Render(string(report.Status)),
		faint.Render("risk"), score.Render(fmt.Sprintf("%d/100", report.OverallRiskScore)))

	counts := report.FindingCounts
	fmt.Fprintf(&builder, "%s %s %s %s\n",
		faint.Render("findings"),
		severityStyle(renderer, theme, schema.SeverityCritical).Render(fmt.Sprintf("%d critical", counts.Critical)),
		severityStyle(renderer, theme, schema.SeverityWarning).Render(fmt.Sprintf("%d warning", counts.Warning)),
		severityStyle(renderer, theme, schema.SeverityInfo).Render(fmt.Sprintf("%d info", counts.Info)))

	fuzzing := report.FuzzingSummary
	fmt.Fprintf(&builder, "%s %s\n", faint.Render("invocations"),
		normal.Render(fmt.Sprintf("%d total, %d leaked data, %d suspicious",
			fuzzing.TotalTests, fuzzing.LeakedData, fuzzing.Suspicious)))

	behavior := report.BehaviorSummary
	fmt.Fprintf(&builder, "%s %s\n", faint.Render("telemetry"),
		normal.Render(fmt.Sprintf("%d events (%d network, %d filesystem, %d process)",
			behavior.TotalEvents, behavior.NetworkEvents, behavior.FilesystemEvents, behavior.ProcessEvents)))

	if len(report.DegradedSignals) > 0 {
		fmt.Fprintf(&builder, "%s %s\n", faint.Render("degraded"),
			severityStyle(renderer, theme, schema.SeverityWarning).Render(strings.Join(report.DegradedSignals, ", ")))
	}

	if len(report.Recommendations) > 0 {
		builder.WriteString("\n")
		builder.WriteString(header.Render("Recommendations"))
		builder.WriteString("\n")
		for _, recommendation := range report.Recommendations {
			fmt.Fprintf(&builder, "  • %s\n", normal.Render(recommendation))
		}
	}

	if len(report.Findings) > 0 {
		builder.WriteString("\n")
		builder.WriteString(header.Render("Findings"))
		builder.WriteString("\n")
		for _, finding := range mostSevere(report.Findings, maxListedFindings) {
			fmt.Fprintf(&builder, "  %s %s %s\n",
				severityStyle(renderer, theme, finding.Severity).Render(fmt.Sprintf("%-8s", finding.Severity)),
				normal.Render(finding.Title),
				faint.Render("["+string(finding.Category)+"]"))
		}
		if hidden := len(report.Findings) - maxListedFindings; hidden > 0 {
			fmt.Fprintf(&builder, "  %s\n", faint.Render(fmt.Sprintf("… %d more in the JSON report", hidden)))
		}
	}

	if len(report.Notes) > 0 {
		builder.WriteString("\n")
		for _, note := range report.Notes {
			fmt.Fprintf(&builder, "%s %s\n", faint.Render("note:"), normal.Render(note))
		}
	}
	return builder.String()
}

// PrintSummary writes the colored summary of report to w, which is
// expected to be a terminal.
func PrintSummary(w io.Writer, report schema.RiskReport, theme Theme) error {
	_, err := io.WriteString(w, RenderSummary(report, theme, NewRenderer(w)))
	return err
}

func severityStyle(renderer *lipgloss.Renderer, theme Theme, severity schema.Severity) lipgloss.Style {
	return renderer.NewStyle().Foreground(theme.SeverityColor(severity))
}

// mostSevere returns up to limit findings ordered by descending
// severity, preserving report order within a severity.
func mostSevere(findings []schema.Finding, limit int) []schema.Finding {
	var selected []schema.Finding
	for _, severity := range []schema.Severity{schema.SeverityCritical, schema.SeverityWarning, schema.SeverityInfo} {
		for _, finding := range findings {
			if len(selected) == limit {
				return selected
			}
			if finding.Severity == severity {
				selected = append(selected, finding)
			}
		}
	}
	return selected
}
