// Package components renders small reusable report widgets.
package components

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/pathwise/internal/ui/theme"
)

// ProgressBar displays a horizontal progress bar.
type ProgressBar struct {
	Label       string
	Percent     float64 // 0 to 1
	ShowPercent bool
	Width       int
}

// NewProgressBar creates a new progress bar.
func NewProgressBar(label string, percent float64, showPercent bool, width int) ProgressBar {
	return ProgressBar{
		Label:       label,
		Percent:     percent,
		ShowPercent: showPercent,
		Width:       width,
	}
}

// Cells returns how many of the bar's cells are filled.
func (p ProgressBar) Cells() (filled, total int) {
	total = p.Width - lipgloss.Width(p.label()) - p.percentWidth()
	if total < 4 {
		total = 4
	}
	filled = int(float64(total) * p.Percent)
	return min(max(filled, 0), total), total
}

// View renders the progress bar.
func (p ProgressBar) View() string {
	filled, total := p.Cells()

	var b strings.Builder
	b.WriteString(p.label())
	b.WriteString(lipgloss.NewStyle().Foreground(theme.Secondary).Render(strings.Repeat("█", filled)))
	b.WriteString(lipgloss.NewStyle().Foreground(theme.Border).Render(strings.Repeat("░", total-filled)))
	if p.ShowPercent {
		pct := min(max(p.Percent, 0), 1)
		b.WriteString(theme.Subtitle.Render(fmt.Sprintf(" %3d%%", int(pct*100))))
	}
	return b.String()
}

func (p ProgressBar) label() string {
	if p.Label == "" {
		return ""
	}
	return theme.Body.Render(p.Label) + "  "
}

func (p ProgressBar) percentWidth() int {
	if p.ShowPercent {
		return 5 // " 100%"
	}
	return 0
}
