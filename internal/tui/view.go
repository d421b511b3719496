package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/tui/components"
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(components.HeaderStyle.Render("🚦 claude-blocker"))
	b.WriteString("\n")
	b.WriteString(m.renderConnection())
	b.WriteString("\n\n")

	if !m.hasState {
		b.WriteString(components.MutedStyle.Render("Waiting for the first snapshot..."))
		b.WriteString("\n")
		return m.frame(b.String())
	}

	b.WriteString(m.renderBanner())
	b.WriteString("\n\n")

	if len(m.state.Sessions) == 0 {
		b.WriteString(components.MutedStyle.Render("No active Claude Code sessions"))
		b.WriteString("\n")
	}
	for _, sess := range m.state.Sessions {
		b.WriteString(m.renderSession(sess))
		b.WriteString("\n")
	}

	return m.frame(b.String())
}

func (m Model) frame(content string) string {
	footer := fmt.Sprintf("%s quit  %s tools",
		components.KeyHighlightStyle.Render(components.KeyQuit),
		components.KeyHighlightStyle.Render(components.KeyTools))
	if !m.lastUpdate.IsZero() {
		footer += components.MutedStyle.Render("  updated " + m.lastUpdate.Format("15:04:05"))
	}

	style := components.FooterStyle
	if m.width > 0 {
		style = components.ApplyWidth(style, m.width)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		components.MainContentStyle.Render(content),
		style.Render(footer))
}

func (m Model) renderConnection() string {
	if m.connected {
		return components.StatusConnectedStyle.Render("● connected to " + m.serverURL)
	}
	line := components.StatusDisconnectedStyle.Render("○ disconnected from " + m.serverURL)
	if m.err != nil {
		line += " " + components.MutedStyle.Render(m.err.Error())
	}
	return line
}

func (m Model) renderBanner() string {
	if m.state.Blocked {
		banner := components.BlockedBannerStyle.Render("BLOCKED")
		if m.state.WaitingForInput > 0 {
			banner += " " + components.StatusStyle(models.StatusWaitingForInput).
				Render(fmt.Sprintf("%d waiting for input", m.state.WaitingForInput))
		}
		return banner
	}
	return fmt.Sprintf("%s %s %d working",
		components.WorkingBannerStyle.Render("WORKING"),
		m.spinner.View(),
		m.state.Working)
}

func (m Model) renderSession(s *models.Session) string {
	var b strings.Builder

	since := formatDuration(m.now().Sub(s.LastStatusChange))
	status := components.StatusStyle(s.Status).Render(statusLabel(s.Status))
	b.WriteString(fmt.Sprintf("%s  %s %s", components.SectionHeaderStyle.Render(s.ProjectName), status,
		components.MutedStyle.Render("for "+since)))
	b.WriteString("\n")

	details := []string{fmt.Sprintf("%d tools", s.ToolCount)}
	if s.SubagentCount > 0 {
		details = append(details, fmt.Sprintf("%d subagents", s.SubagentCount))
	}
	if s.TotalTokens > 0 {
		details = append(details, fmt.Sprintf("%s tokens", formatTokens(s.TotalTokens)))
	}
	if s.CostUSD > 0 {
		details = append(details, fmt.Sprintf("$%.2f", s.CostUSD))
	}
	if s.Model != "" {
		details = append(details, s.Model)
	}
	b.WriteString("  " + components.MutedStyle.Render(strings.Join(details, " · ")))
	b.WriteString("\n")

	if m.showTools {
		for _, tool := range s.RecentTools {
			line := "  ↳ " + tool.Name
			if tool.Input != nil {
				if summary := toolSummary(*tool.Input); summary != "" {
					line += " " + components.MutedStyle.Render(summary)
				}
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func statusLabel(s models.SessionStatus) string {
	switch s {
	case models.StatusWorking:
		return "working"
	case models.StatusWaitingForInput:
		return "waiting for input"
	default:
		return "idle"
	}
}

func toolSummary(in models.ToolInput) string {
	switch {
	case in.FilePath != "":
		return in.FilePath
	case in.Command != "":
		return in.Command
	case in.Pattern != "":
		return in.Pattern
	default:
		return in.Description
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func formatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
