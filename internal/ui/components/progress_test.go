package components

import (
	"testing"

	"charm.land/lipgloss/v2"
)

func TestProgressBarCells(t *testing.T) {
	tests := []struct {
		name       string
		percent    float64
		width      int
		wantFilled int
		wantTotal  int
	}{
		{"empty", 0, 20, 0, 15},
		{"half", 0.5, 20, 7, 15},
		{"full", 1, 20, 15, 15},
		{"overflow", 1.7, 20, 15, 15},
		{"negative", -0.2, 20, 0, 15},
		{"narrow", 0.5, 2, 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := NewProgressBar("", tt.percent, true, tt.width)
			filled, total := bar.Cells()
			if filled != tt.wantFilled || total != tt.wantTotal {
				t.Errorf("Cells() = (%d, %d), want (%d, %d)", filled, total, tt.wantFilled, tt.wantTotal)
			}
		})
	}
}

func TestProgressBarViewWidth(t *testing.T) {
	bar := NewProgressBar("algebra", 0.25, true, 40)
	if got := lipgloss.Width(bar.View()); got != 40 {
		t.Errorf("rendered width = %d, want 40", got)
	}
}
