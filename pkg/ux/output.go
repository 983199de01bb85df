// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the Agora CLI.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Agora color palette - warm forum marble and debate-floor amber
var (
	// Primary palette (brightest to darkest)
	ColorAmberBright  = lipgloss.Color("#F5B041") // Bright amber - highlights, success
	ColorAmberPrimary = lipgloss.Color("#E59836") // Primary amber - main brand color
	ColorAmberDeep    = lipgloss.Color("#C77F2B") // Deep amber - borders, accents
	ColorTerracotta   = lipgloss.Color("#B25B3A") // Terracotta - secondary elements

	// Dark palette (for backgrounds, muted elements)
	ColorUmber    = lipgloss.Color("#4A3B2A") // Umber - muted text, borders
	ColorCharcoal = lipgloss.Color("#1C1814") // Charcoal - near black

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#7DCE82") // Green for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
	ColorMuted   = lipgloss.Color("#4A3B2A") // Umber for muted text

	// Stance colors for debate transcripts
	ColorSupport = lipgloss.Color("#7DCE82")
	ColorOppose  = lipgloss.Color("#E77E5C")
	ColorNeutral = lipgloss.Color("#9FA8B0")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	VerdictBox lipgloss.Style
	ErrorBox   lipgloss.Style

	Support lipgloss.Style
	Oppose  lipgloss.Style
	Neutral lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAmberBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorAmberPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorUmber),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAmberBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAmberDeep).
		Padding(0, 1),
	VerdictBox: lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(ColorAmberBright).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	Support: lipgloss.NewStyle().Foreground(ColorSupport).Bold(true),
	Oppose:  lipgloss.NewStyle().Foreground(ColorOppose).Bold(true),
	Neutral: lipgloss.NewStyle().Foreground(ColorNeutral).Bold(true),
}

// StanceStyle returns the transcript style for an agent stance.
func StanceStyle(stance string) lipgloss.Style {
	switch stance {
	case "support":
		return Styles.Support
	case "oppose":
		return Styles.Oppose
	default:
		return Styles.Neutral
	}
}

// IsInteractive reports whether stdout is a terminal. Piped output gets
// plain, uncolored text.
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// PrintError writes a styled error line to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, Styles.Error.Render("✗ ")+fmt.Sprintf(format, args...))
}

// PrintSuccess writes a styled success line to stdout.
func PrintSuccess(format string, args ...any) {
	fmt.Println(Styles.Success.Render("✓ ") + fmt.Sprintf(format, args...))
}
