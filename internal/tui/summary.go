package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type SummaryRow struct {
	Label string
	Value string
}

// RenderSummary draws rows as a two-column table between rules.
func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(row.Label))
		valueWidth = max(valueWidth, lipgloss.Width(row.Value))
	}

	hline := dimStyle.Render(strings.Repeat("-", labelWidth+valueWidth+3))
	lines := []string{hline}
	for _, row := range rows {
		label := lipgloss.NewStyle().Width(labelWidth).Render(row.Label)
		value := lipgloss.NewStyle().Width(valueWidth).Render(row.Value)
		lines = append(lines, fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value)))
	}
	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// RenderError formats a failure line for the terminal.
func RenderError(msg string) string {
	return errorStyle.Render("✗ " + msg)
}

// RenderSuccess formats a success line for the terminal.
func RenderSuccess(msg string) string {
	return successStyle.Render("✓ " + msg)
}
