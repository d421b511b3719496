package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidSessionUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid UUID", "cf568042-7147-4fba-a2ca-c6a646581260", true},
		{"agent file", "agent-d221d088", false},
		{"too short", "abc-123", false},
		{"wrong number of dashes", "cf5680427147-4fba-a2ca-c6a646581260", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValidSessionUUID(tt.input))
		})
	}
}

func TestEncodePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple path", "/workspaces/myproject", "-workspaces-myproject"},
		{"path with dots", "/home/user/my.project", "-home-user-my-project"},
		{"already has leading dash", "-foo/bar", "-foo-bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EncodePath(tt.input))
		})
	}
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "myproject", ProjectName("/workspaces/myproject"))
	assert.Equal(t, "myproject", ProjectName("/workspaces/myproject/"))
	assert.Equal(t, "", ProjectName(""))
}

func TestSessionIDFromPath(t *testing.T) {
	assert.Equal(t, "cf568042-7147-4fba-a2ca-c6a646581260",
		SessionIDFromPath("/x/-proj/cf568042-7147-4fba-a2ca-c6a646581260.jsonl"))
}

func TestListTranscripts(t *testing.T) {
	root := t.TempDir()

	write := func(rel string) {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte("{}\n"), 0644))
	}
	write("-proj-a/11111111-1111-1111-1111-111111111111.jsonl")
	write("-proj-a/notes.txt")
	write("-proj-b/22222222-2222-2222-2222-222222222222.jsonl")
	// sub-agent transcripts live in nested directories and are not sessions
	write("-proj-b/22222222-2222-2222-2222-222222222222/subagents/agent-1.jsonl")
	write("stray.jsonl")

	transcripts, err := ListTranscripts(root)
	require.NoError(t, err)
	require.Len(t, transcripts, 2)

	assert.Equal(t, "-proj-a", transcripts[0].Project)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", transcripts[0].SessionID)
	assert.Equal(t, "-proj-b", transcripts[1].Project)
	assert.Equal(t, int64(3), transcripts[1].Size)
	assert.False(t, transcripts[1].ModTime.IsZero())
}

func TestListTranscriptsMissingRoot(t *testing.T) {
	transcripts, err := ListTranscripts(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, transcripts)
}

func TestResolveTranscript(t *testing.T) {
	projects := t.TempDir()
	cwd := "/work/app"
	id := "cf568042-7147-4fba-a2ca-c6a646581260"

	assert.Empty(t, ResolveTranscript(projects, cwd, id))

	dir := ProjectDir(projects, cwd)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, id+TranscriptExt)
	require.NoError(t, os.WriteFile(path, nil, 0644))

	assert.Equal(t, path, ResolveTranscript(projects, cwd, id))
	assert.Empty(t, ResolveTranscript(projects, "", id))
}
