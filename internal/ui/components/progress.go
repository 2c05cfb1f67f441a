package components

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/drillsim/internal/ui/theme"
)

// ScoreBar displays a 0-100 value as a horizontal bar.
type ScoreBar struct {
	Label      string
	Value      int
	ShowValue  bool
	Width      int
	LabelWidth int
}

// NewScoreBar creates a score bar.
func NewScoreBar(label string, value int, width int) ScoreBar {
	return ScoreBar{
		Label:     label,
		Value:     value,
		ShowValue: true,
		Width:     width,
	}
}

// Filled returns how many of barWidth cells the value covers.
func (p ScoreBar) Filled(barWidth int) int {
	filled := barWidth * p.Value / 100
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	return filled
}

// View renders the bar.
func (p ScoreBar) View() string {
	var result string

	if p.Label != "" {
		label := p.Label
		if p.LabelWidth > 0 {
			label = fmt.Sprintf("%-*s", p.LabelWidth, label)
		}
		result += theme.Body.Render(label) + "  "
	}

	labelWidth := lipgloss.Width(result)
	valueWidth := 0
	if p.ShowValue {
		valueWidth = 5 // "  100"
	}

	barWidth := p.Width - labelWidth - valueWidth
	if barWidth < 4 {
		barWidth = 4
	}
	filled := p.Filled(barWidth)

	result += lipgloss.NewStyle().
		Foreground(theme.ScoreColor(p.Value)).
		Render(strings.Repeat("█", filled))
	result += lipgloss.NewStyle().
		Foreground(theme.Border).
		Render(strings.Repeat("░", barWidth-filled))

	if p.ShowValue {
		result += theme.Subtitle.Render(fmt.Sprintf("  %3d", p.Value))
	}
	return result
}
