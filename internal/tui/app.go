package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the live session monitor for the tracker at serverURL until the user quits
func Run(serverURL string) error {
	p := tea.NewProgram(NewModel(serverURL), tea.WithAltScreen())

	client := NewStreamClient(WebSocketURL(serverURL), p.Send)
	client.Start()
	defer client.Stop()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("session monitor: %w", err)
	}
	return nil
}

// WebSocketURL maps the tracker's http base URL onto its WebSocket endpoint
func WebSocketURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		serverURL = "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		serverURL = "ws://" + strings.TrimPrefix(serverURL, "http://")
	}
	return strings.TrimSuffix(serverURL, "/") + "/ws"
}
