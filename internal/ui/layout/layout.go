package layout

import (
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/drillsim/internal/ui/theme"
)

const (
	// DefaultWidth is used when the output is not a terminal.
	DefaultWidth = 80

	columnGap = 2
)

// RenderBanner renders a one-line title bar with right-aligned context.
func RenderBanner(title, right string, width int) string {
	left := theme.Title.Render(title)
	r := theme.Subtitle.Render(right)

	innerWidth := width - 4 // border and padding
	gap := innerWidth - lipgloss.Width(left) - lipgloss.Width(r)
	if gap < 1 {
		gap = 1
	}

	return theme.Card.
		Width(width).
		Render(left + strings.Repeat(" ", gap) + r)
}

// RenderTable aligns cells into columns. Cells may already be styled;
// widths are measured on their visible text.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder
	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = theme.Header.Render(h)
	}
	writeRow(&b, styled, widths)

	total := 0
	for _, w := range widths {
		total += w + columnGap
	}
	b.WriteString(theme.Subtitle.Render(strings.Repeat("─", max(total-columnGap, 0))))
	b.WriteString("\n")

	for _, row := range rows {
		writeRow(&b, row, widths)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		b.WriteString(cell)
		if i < len(widths)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+columnGap))
		}
	}
	b.WriteString("\n")
}
