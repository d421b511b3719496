package components

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/vanpelt/claude-blocker/internal/models"
)

// Color scheme
const (
	ColorPrimary   = "6"  // Cyan
	ColorSecondary = "8"  // Gray
	ColorSuccess   = "2"  // Green
	ColorWarning   = "3"  // Yellow
	ColorError     = "1"  // Red
	ColorInfo      = "4"  // Blue
	ColorText      = "15" // White
	ColorMuted     = "8"  // Dark gray
	ColorAccent    = "11" // Bright yellow
)

// Header styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorPrimary)).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	SectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color(ColorSuccess))
)

// Text styles
var (
	KeyHighlightStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(ColorAccent)).
				Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorError))

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted))

	StatusConnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(ColorSuccess))

	StatusDisconnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(ColorError))
)

// Banner styles
var (
	BlockedBannerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color(ColorError)).
				Padding(0, 1)

	WorkingBannerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color(ColorSuccess)).
				Padding(0, 1)
)

// Container styles
var (
	MainContentStyle = lipgloss.NewStyle().
				Padding(1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			Padding(0, 1)
)

// StatusStyle colors a session status
func StatusStyle(status models.SessionStatus) lipgloss.Style {
	switch status {
	case models.StatusWorking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSuccess))
	case models.StatusWaitingForInput:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarning)).Bold(true)
	default:
		return MutedStyle
	}
}

// ApplyWidth applies width to a style and returns a new style
func ApplyWidth(style lipgloss.Style, width int) lipgloss.Style {
	return style.Width(width - 2)
}
