package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanpelt/claude-blocker/internal/claude/parser"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/pricing"
	"github.com/vanpelt/claude-blocker/internal/services"
)

type testServer struct {
	app      *fiber.App
	store    *services.SessionStore
	backfill *services.BackfillEngine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	history := services.NewHistoryStore(filepath.Join(dir, "sessions-history.json"), 7*24*time.Hour, time.Hour)
	stats := services.NewStatsStore(filepath.Join(dir, "historical-stats.json"), time.Hour)
	p := parser.New(pricing.NewStatic(), nil)

	store := services.NewSessionStore(services.SessionStoreOptions{
		DebounceWindow: 500 * time.Millisecond,
		StaleTimeout:   5 * time.Minute,
		SweepInterval:  time.Hour,
		AskUserTools:   []string{"AskUserQuestion"},
	}, p, history, stats, nil)
	t.Cleanup(func() { _ = store.Close() })

	backfill := services.NewBackfillEngine(services.BackfillOptions{
		ProjectsDir: filepath.Join(dir, "projects"),
	}, p, stats, store, store.Broadcaster())

	app := NewApp(AppOptions{Context: context.Background(), Store: store, Backfill: backfill})
	return &testServer{app: app, store: store, backfill: backfill}
}

func (s *testServer) do(t *testing.T, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHooks_IngestEvents(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/hook", "/v1/hooks"} {
		resp, body := s.do(t, "POST", path, `{"session_id":"abc","hook_event_name":"UserPromptSubmit","cwd":"/work/demo"}`)
		assert.Equal(t, 200, resp.StatusCode)
		assert.JSONEq(t, `{"ok":true}`, string(body))
	}

	sess, ok := s.store.Get("abc")
	require.True(t, ok)
	assert.Equal(t, models.StatusWorking, sess.Status)
	assert.Equal(t, "demo", sess.ProjectName)
}

func TestHooks_RejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]string{
		"invalid json":  `{not json`,
		"no session id": `{"hook_event_name":"Stop"}`,
		"unknown event": `{"session_id":"abc","hook_event_name":"Notification"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, data := s.do(t, "POST", "/v1/hooks", body)
			assert.Equal(t, 400, resp.StatusCode)
			assert.Contains(t, string(data), "error")
		})
	}
	assert.Empty(t, s.store.Sessions())
}

func TestState_ReflectsSessions(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, "GET", "/v1/state", "")
	require.Equal(t, 200, resp.StatusCode)
	var state models.StateSnapshot
	require.NoError(t, json.Unmarshal(body, &state))
	assert.True(t, state.Blocked)
	assert.Equal(t, "state", state.Type)

	s.do(t, "POST", "/hook", `{"session_id":"abc","hook_event_name":"UserPromptSubmit"}`)

	_, body = s.do(t, "GET", "/v1/state", "")
	require.NoError(t, json.Unmarshal(body, &state))
	assert.False(t, state.Blocked)
	assert.Equal(t, 1, state.Working)
	require.Len(t, state.Sessions, 1)
	assert.Equal(t, "abc", state.Sessions[0].ID)
}

func TestHistory_ReturnsEndedSessions(t *testing.T) {
	s := newTestServer(t)

	for _, id := range []string{"one", "two", "three"} {
		s.do(t, "POST", "/hook", `{"session_id":"`+id+`","hook_event_name":"SessionStart"}`)
		s.do(t, "POST", "/hook", `{"session_id":"`+id+`","hook_event_name":"SessionEnd"}`)
	}

	resp, body := s.do(t, "GET", "/v1/history?limit=2", "")
	require.Equal(t, 200, resp.StatusCode)
	var history []models.HistoricalSession
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Len(t, history, 2)

	resp, _ = s.do(t, "GET", "/v1/history?limit=0", "")
	assert.Equal(t, 400, resp.StatusCode)
}

func TestStats_DateAndRange(t *testing.T) {
	s := newTestServer(t)
	stats := s.store.Stats()
	stats.Merge("2025-03-01", models.DailyStats{TotalTokens: 10, SessionsStarted: 1})
	stats.Merge("2025-03-02", models.DailyStats{TotalTokens: 20, SessionsStarted: 1})
	stats.Merge("2025-03-05", models.DailyStats{TotalTokens: 40, SessionsStarted: 1})

	var out StatsResponse
	resp, body := s.do(t, "GET", "/v1/stats?date=2025-03-02", "")
	require.Equal(t, 200, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Days, 1)
	assert.Equal(t, int64(20), out.Totals.TotalTokens)

	_, body = s.do(t, "GET", "/v1/stats?from=2025-03-01&to=2025-03-04", "")
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Days, 2)
	assert.Equal(t, int64(30), out.Totals.TotalTokens)
	assert.Equal(t, 2, out.Totals.SessionsStarted)

	resp, _ = s.do(t, "GET", "/v1/stats?date=March", "")
	assert.Equal(t, 400, resp.StatusCode)
}

func TestBackfill_TriggerAndProgress(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, "GET", "/v1/backfill", "")
	require.Equal(t, 200, resp.StatusCode)
	var progress models.BackfillProgress
	require.NoError(t, json.Unmarshal(body, &progress))
	assert.Equal(t, models.BackfillIdle, progress.Status)

	resp, _ = s.do(t, "POST", "/v1/backfill", "")
	assert.Equal(t, 202, resp.StatusCode)

	require.Eventually(t, func() bool {
		return s.backfill.Progress().Status == models.BackfillComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, "GET", "/health", "")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, "GET", "/ws", "")
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestEvents_RejectsNonSSEClients(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/v1/events", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

// listen serves the app on a random local port
func listen(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(100 * time.Millisecond) })
	return ln.Addr().String()
}

func postHook(t *testing.T, addr, body string) {
	t.Helper()
	resp, err := http.Post("http://"+addr+"/v1/hooks", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestEvents_StreamsState(t *testing.T) {
	s := newTestServer(t)
	addr := listen(t, s.app)

	req, err := http.NewRequest("GET", "http://"+addr+"/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() SSEMessage {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var msg SSEMessage
				require.NoError(t, json.Unmarshal([]byte(data), &msg))
				return msg
			}
		}
	}

	assert.Equal(t, services.HeartbeatEvent, next().Event.Type)
	initial := next()
	assert.Equal(t, services.StateEvent, initial.Event.Type)
	assert.NotEmpty(t, initial.ID)

	postHook(t, addr, `{"session_id":"abc","hook_event_name":"UserPromptSubmit"}`)

	update := next()
	assert.Equal(t, services.StateEvent, update.Event.Type)
	payload, err := json.Marshal(update.Event.Payload)
	require.NoError(t, err)
	var state models.StateSnapshot
	require.NoError(t, json.Unmarshal(payload, &state))
	assert.False(t, state.Blocked)
}

func TestWebSocket_SnapshotPingAndUpdates(t *testing.T) {
	s := newTestServer(t)
	addr := listen(t, s.app)

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var state models.StateSnapshot
	require.NoError(t, conn.ReadJSON(&state))
	assert.True(t, state.Blocked)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	var pong WSMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Type)

	postHook(t, addr, `{"session_id":"abc","hook_event_name":"UserPromptSubmit"}`)

	require.NoError(t, conn.ReadJSON(&state))
	assert.False(t, state.Blocked)
	assert.Equal(t, 1, state.Working)
}
