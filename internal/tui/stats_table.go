package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/tui/components"
)

// RenderStatsTable formats daily statistics with a totals row
func RenderStatsTable(days []models.DailyStats, totals models.DailyStats) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(components.ColorPrimary)).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	totalStyle := cellStyle.Bold(true)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(components.ColorMuted))).
		Headers("Date", "Sessions", "Working", "Waiting", "Idle", "Tokens", "Cost").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row == len(days):
				return totalStyle
			default:
				return cellStyle
			}
		})

	for _, d := range days {
		t.Row(statsRow(d.Date, d)...)
	}
	t.Row(statsRow("Total", totals)...)
	return t.String()
}

func statsRow(label string, d models.DailyStats) []string {
	return []string{
		label,
		fmt.Sprintf("%d/%d", d.SessionsStarted, d.SessionsEnded),
		formatDuration(time.Duration(d.TotalWorkingMs) * time.Millisecond),
		formatDuration(time.Duration(d.TotalWaitingMs) * time.Millisecond),
		formatDuration(time.Duration(d.TotalIdleMs) * time.Millisecond),
		formatTokens(d.TotalTokens),
		fmt.Sprintf("$%.2f", d.TotalCostUSD),
	}
}
