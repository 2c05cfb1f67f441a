package theme

import (
	"image/color"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/drillsim/internal/performance"
)

// Color palette, tuned for dark on-call terminals.
var (
	Primary   = lipgloss.Color("#38BDF8") // Sky
	Secondary = lipgloss.Color("#14B8A6") // Teal
	Warning   = lipgloss.Color("#F59E0B") // Amber
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

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextDim)
)

// Outcome styles
var (
	Passed = lipgloss.NewStyle().
		Foreground(Success).
		Bold(true)

	Failed = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)

	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(0, 1)
)

// LevelColor returns the accent color for a mastery level.
func LevelColor(l performance.MasteryLevel) color.Color {
	switch l {
	case performance.LevelExpert:
		return Success
	case performance.LevelProficient:
		return Secondary
	case performance.LevelCompetent:
		return Warning
	default:
		return TextDim
	}
}

// Level renders a mastery level in its color.
func Level(l performance.MasteryLevel) string {
	return lipgloss.NewStyle().Foreground(LevelColor(l)).Bold(true).Render(string(l))
}

// ScoreColor grades a 0-100 score.
func ScoreColor(score int) color.Color {
	switch {
	case score >= 85:
		return Success
	case score >= 60:
		return Warning
	default:
		return Error
	}
}
