// Package theme holds the terminal styles used by the CLI reports.
package theme

import (
	"charm.land/lipgloss/v2"
)

// Color palette
var (
	Primary   = lipgloss.Color("#8B5CF6") // Purple
	Secondary = lipgloss.Color("#14B8A6") // Teal
	Accent    = lipgloss.Color("#F97316") // Orange
	Success   = lipgloss.Color("#22C55E") // Green
	Error     = lipgloss.Color("#F43F5E") // Rose
	Text      = lipgloss.Color("#F8FAFC") // White
	TextDim   = lipgloss.Color("#94A3B8") // Slate
	Border    = lipgloss.Color("#334155") // Slate
)

// Typography
var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Subtitle = lipgloss.NewStyle().
			Foreground(TextDim)

	Body = lipgloss.NewStyle().
		Foreground(Text)

	Hint = lipgloss.NewStyle().
		Foreground(TextDim).
		Italic(true)

	Warning = lipgloss.NewStyle().
		Foreground(Accent).
		Bold(true)
)

// Card frames a report section.
var Card = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Border).
	Padding(0, 1)

// Content states
var (
	Completed = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	InProgress = lipgloss.NewStyle().
			Foreground(Secondary)

	Available = lipgloss.NewStyle().
			Foreground(Text)

	Locked = lipgloss.NewStyle().
		Foreground(TextDim)

	Blocked = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)
)

// State returns the style for a content state label such as "completed"
// or "locked". Unknown labels render as plain body text.
func State(label string) lipgloss.Style {
	switch label {
	case "completed":
		return Completed
	case "in_progress":
		return InProgress
	case "available", "not_started":
		return Available
	case "locked":
		return Locked
	case "blocked":
		return Blocked
	}
	return Body
}

// Severity returns the style for a gap severity in [0,1].
func Severity(s float64) lipgloss.Style {
	switch {
	case s >= 0.7:
		return Blocked
	case s >= 0.4:
		return Warning
	}
	return InProgress
}
