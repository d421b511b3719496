package tui

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanpelt/claude-blocker/internal/models"
)

func fixedModel(now time.Time) Model {
	m := NewModel("http://127.0.0.1:8765")
	m.now = func() time.Time { return now }
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModel_ConnectionLifecycle(t *testing.T) {
	m := fixedModel(time.Now())
	assert.Contains(t, m.View(), "disconnected")
	assert.Contains(t, m.View(), "Waiting for the first snapshot")

	m = update(t, m, connectedMsg{})
	assert.True(t, m.connected)
	assert.Contains(t, m.View(), "connected to http://127.0.0.1:8765")

	m = update(t, m, disconnectedMsg{err: errors.New("connection refused")})
	assert.False(t, m.connected)
	assert.Contains(t, m.View(), "connection refused")
}

func TestModel_RendersSessions(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := fixedModel(now)

	m = update(t, m, stateMsg(models.StateSnapshot{
		Type:    "state",
		Blocked: false,
		Working: 1,
		Sessions: []*models.Session{{
			ID:               "abc",
			Status:           models.StatusWorking,
			ProjectName:      "demo",
			LastStatusChange: now.Add(-90 * time.Second),
			ToolCount:        3,
			RecentTools: []models.ToolInfo{
				{Name: "Bash", Input: &models.ToolInput{Command: "go test ./..."}},
			},
			TokenUsage: models.TokenUsage{TotalTokens: 12_500, CostUSD: 0.42},
			Model:      "claude-sonnet-4-5",
		}},
	}))

	view := m.View()
	assert.Contains(t, view, "WORKING")
	assert.Contains(t, view, "demo")
	assert.Contains(t, view, "for 1m30s")
	assert.Contains(t, view, "12.5k tokens")
	assert.Contains(t, view, "$0.42")
	assert.Contains(t, view, "go test ./...")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("t")})
	assert.NotContains(t, m.View(), "go test ./...")
}

func TestModel_BlockedBanner(t *testing.T) {
	m := fixedModel(time.Now())
	m = update(t, m, stateMsg(models.StateSnapshot{Type: "state", Blocked: true, WaitingForInput: 2}))

	view := m.View()
	assert.Contains(t, view, "BLOCKED")
	assert.Contains(t, view, "2 waiting for input")
	assert.Contains(t, view, "No active Claude Code sessions")
}

func TestModel_Quit(t *testing.T) {
	m := fixedModel(time.Now())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8765/ws", WebSocketURL("http://127.0.0.1:8765"))
	assert.Equal(t, "wss://tracker.local/ws", WebSocketURL("https://tracker.local/"))
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2h05m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "0s", formatDuration(-time.Second))
	assert.Equal(t, "999", formatTokens(999))
	assert.Equal(t, "1.2M", formatTokens(1_200_000))
}

func TestRenderStatsTable(t *testing.T) {
	days := []models.DailyStats{
		{Date: "2025-03-01", SessionsStarted: 2, SessionsEnded: 1, TotalWorkingMs: 90_000, TotalTokens: 1500, TotalCostUSD: 0.5},
	}
	out := RenderStatsTable(days, days[0])
	assert.Contains(t, out, "2025-03-01")
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "2/1")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "$0.50")
}

func TestStreamClient_ForwardsSnapshots(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]string{"type": "pong"})
		_ = conn.WriteJSON(models.StateSnapshot{Type: "state", Blocked: false, Working: 1})
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	msgs := make(chan tea.Msg, 16)
	client := NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", func(msg tea.Msg) { msgs <- msg })
	client.Start()
	defer client.Stop()

	var got []tea.Msg
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-msgs:
			got = append(got, msg)
		case <-timeout:
			t.Fatalf("received %d messages", len(got))
		}
	}

	assert.IsType(t, connectedMsg{}, got[0])
	state, ok := got[1].(stateMsg)
	require.True(t, ok)
	assert.Equal(t, 1, state.Working)
}
