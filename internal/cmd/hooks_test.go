package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanpelt/claude-blocker/internal/models"
)

const testHookCommand = "/usr/local/bin/blocker hook"

func readSettings(t *testing.T, path string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var settings map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &settings))
	return settings
}

func readHooks(t *testing.T, path string) map[string][]HookMatcher {
	t.Helper()
	var hooks map[string][]HookMatcher
	require.NoError(t, json.Unmarshal(readSettings(t, path)["hooks"], &hooks))
	return hooks
}

func TestInstallHooks_FreshSettings(t *testing.T) {
	settingsFile := filepath.Join(t.TempDir(), "claude", "settings.json")

	backup, added, err := installHooks(settingsFile, testHookCommand, time.Now())
	require.NoError(t, err)
	assert.Empty(t, backup)
	assert.Equal(t, len(models.AllHookEvents), added)

	hooks := readHooks(t, settingsFile)
	for _, event := range models.AllHookEvents {
		require.Len(t, hooks[string(event)], 1, event)
		assert.Equal(t, testHookCommand, hooks[string(event)][0].Hooks[0].Command)
		assert.Equal(t, "command", hooks[string(event)][0].Hooks[0].Type)
	}
}

func TestInstallHooks_PreservesExistingSettings(t *testing.T) {
	dir := t.TempDir()
	settingsFile := filepath.Join(dir, "settings.json")
	existing := `{
  "model": "opus",
  "hooks": {
    "PostToolUse": [{"matcher": "Edit", "hooks": [{"type": "command", "command": "prettier --write"}]}]
  }
}`
	require.NoError(t, os.WriteFile(settingsFile, []byte(existing), 0644))

	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local)
	backup, _, err := installHooks(settingsFile, testHookCommand, now)
	require.NoError(t, err)
	assert.Equal(t, settingsFile+".backup.20250301-093000", backup)

	saved, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, existing, string(saved))

	settings := readSettings(t, settingsFile)
	assert.JSONEq(t, `"opus"`, string(settings["model"]))

	hooks := readHooks(t, settingsFile)
	require.Len(t, hooks["PostToolUse"], 2)
	assert.Equal(t, "Edit", hooks["PostToolUse"][0].Matcher)
	assert.Equal(t, "prettier --write", hooks["PostToolUse"][0].Hooks[0].Command)
	assert.Equal(t, testHookCommand, hooks["PostToolUse"][1].Hooks[0].Command)
}

func TestInstallHooks_Idempotent(t *testing.T) {
	settingsFile := filepath.Join(t.TempDir(), "settings.json")

	_, _, err := installHooks(settingsFile, testHookCommand, time.Now())
	require.NoError(t, err)
	_, added, err := installHooks(settingsFile, testHookCommand, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, added)

	for event, matchers := range readHooks(t, settingsFile) {
		assert.Len(t, matchers, 1, event)
	}
}

func TestInstallHooks_RejectsCorruptSettings(t *testing.T) {
	settingsFile := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(settingsFile, []byte("{oops"), 0644))

	_, _, err := installHooks(settingsFile, testHookCommand, time.Now())
	require.Error(t, err)

	data, err := os.ReadFile(settingsFile)
	require.NoError(t, err)
	assert.Equal(t, "{oops", string(data))
}

func TestForwardHook(t *testing.T) {
	var hits atomic.Int32
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		received.Store(string(body))
		if r.URL.Path != "/v1/hooks" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		payload  string
		wantSent bool
		wantErr  bool
	}{
		{
			name:     "tracked event is forwarded verbatim",
			payload:  `{"session_id":"abc","hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"ls"}}`,
			wantSent: true,
		},
		{
			name:    "untracked event is dropped",
			payload: `{"session_id":"abc","hook_event_name":"Notification"}`,
		},
		{
			name:    "missing session is dropped",
			payload: `{"hook_event_name":"Stop"}`,
		},
		{
			name:    "invalid json",
			payload: `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := hits.Load()
			err := forwardHook(srv.URL+"/v1/hooks", []byte(tt.payload), time.Second)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantSent {
				assert.Equal(t, before+1, hits.Load())
				assert.Equal(t, tt.payload, received.Load())
			} else {
				assert.Equal(t, before, hits.Load())
			}
		})
	}
}

func TestForwardHook_ServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	err := forwardHook(srv.URL+"/v1/hooks", []byte(`{"session_id":"abc","hook_event_name":"Stop"}`), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	// nothing listening
	err = forwardHook("http://127.0.0.1:1/v1/hooks", []byte(`{"session_id":"abc","hook_event_name":"Stop"}`), 200*time.Millisecond)
	assert.Error(t, err)
}
