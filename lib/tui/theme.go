// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// Theme defines the color palette for report summaries. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Finding severities.
	SeverityCritical lipgloss.Color
	SeverityWarning  lipgloss.Color
	SeverityInfo     lipgloss.Color

	// Session outcomes.
	StatusCompleted lipgloss.Color
	StatusFailed    lipgloss.Color
	StatusTimedOut  lipgloss.Color

	// Risk score bands, split at the same thresholds as the
	// recommendations.
	ScoreHigh     lipgloss.Color
	ScoreElevated lipgloss.Color
	ScoreLow      lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
}

// SeverityColor returns the color for a finding severity. Unknown
// severities return FaintText.
func (theme Theme) SeverityColor(severity schema.Severity) lipgloss.Color {
	switch severity {
	case schema.SeverityCritical:
		return theme.SeverityCritical
	case schema.SeverityWarning:
		return theme.SeverityWarning
	case schema.SeverityInfo:
		return theme.SeverityInfo
	default:
		return theme.FaintText
	}
}

// StatusColor returns the color for a session status.
func (theme Theme) StatusColor(status schema.Status) lipgloss.Color {
	switch status {
	case schema.StatusCompleted:
		return theme.StatusCompleted
	case schema.StatusFailed:
		return theme.StatusFailed
	case schema.StatusTimedOut:
		return theme.StatusTimedOut
	default:
		return theme.FaintText
	}
}

// ScoreColor returns the band color for an overall risk score.
func (theme Theme) ScoreColor(score int) lipgloss.Color {
	switch {
	case score > 70:
		return theme.ScoreHigh
	case score > 40:
		return theme.ScoreElevated
	default:
		return theme.ScoreLow
	}
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SeverityCritical: lipgloss.Color("196"), // bright red
	SeverityWarning:  lipgloss.Color("208"), // orange
	SeverityInfo:     lipgloss.Color("75"),  // blue

	StatusCompleted: lipgloss.Color("114"), // green
	StatusFailed:    lipgloss.Color("196"), // red
	StatusTimedOut:  lipgloss.Color("220"), // amber

	ScoreHigh:     lipgloss.Color("196"),
	ScoreElevated: lipgloss.Color("220"),
	ScoreLow:      lipgloss.Color("114"),

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
}
