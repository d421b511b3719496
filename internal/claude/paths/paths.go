// Package paths provides shared utilities for working with Claude transcript file paths
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TranscriptExt is the extension of Claude session transcripts
const TranscriptExt = ".jsonl"

// EncodePath encodes a filesystem path the way Claude does for project directories.
// Claude replaces both "/" and "." with "-" and ensures a leading dash.
func EncodePath(path string) string {
	encoded := strings.ReplaceAll(path, "/", "-")
	encoded = strings.ReplaceAll(encoded, ".", "-")
	encoded = strings.TrimPrefix(encoded, "-")
	return "-" + encoded
}

// ProjectsDir returns <claudeConfigDir>/projects
func ProjectsDir(claudeConfigDir string) string {
	return filepath.Join(claudeConfigDir, "projects")
}

// ProjectDir returns the directory Claude keeps transcripts for cwd in
func ProjectDir(projectsDir, cwd string) string {
	return filepath.Join(projectsDir, EncodePath(cwd))
}

// IsValidSessionUUID checks if a string is a valid Claude session UUID.
// Valid UUIDs are 36 characters with 4 dashes (e.g., cf568042-7147-4fba-a2ca-c6a646581260)
func IsValidSessionUUID(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}

// SessionIDFromPath returns the session id encoded in a transcript file name
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), TranscriptExt)
}

// ProjectName is the display name for a working directory
func ProjectName(cwd string) string {
	cwd = strings.TrimRight(cwd, `/\`)
	if cwd == "" {
		return ""
	}
	return filepath.Base(cwd)
}

// ResolveTranscript finds the transcript for sessionID when the hook payload did not carry
// one. Returns "" when nothing exists on disk.
func ResolveTranscript(projectsDir, cwd, sessionID string) string {
	if projectsDir == "" || cwd == "" || sessionID == "" {
		return ""
	}
	candidate := filepath.Join(ProjectDir(projectsDir, cwd), sessionID+TranscriptExt)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

// Transcript describes a transcript file found on disk
type Transcript struct {
	Path      string
	Project   string
	SessionID string
	Size      int64
	ModTime   time.Time
}

// ListTranscripts enumerates <root>/<project>/*.jsonl, one file per session. Nested
// directories (sub-agent transcripts) are not descended into. Results are sorted by path.
// A missing root yields no transcripts and no error.
func ListTranscripts(root string) ([]Transcript, error) {
	projects, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read projects directory: %w", err)
	}

	var transcripts []Transcript
	for _, project := range projects {
		if !project.IsDir() {
			continue
		}

		projectDir := filepath.Join(root, project.Name())
		entries, err := os.ReadDir(projectDir)
		if err != nil {
			// a single unreadable project must not hide the rest
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), TranscriptExt) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			fullPath := filepath.Join(projectDir, entry.Name())
			transcripts = append(transcripts, Transcript{
				Path:      fullPath,
				Project:   project.Name(),
				SessionID: SessionIDFromPath(fullPath),
				Size:      info.Size(),
				ModTime:   info.ModTime(),
			})
		}
	}

	sort.Slice(transcripts, func(i, j int) bool {
		return transcripts[i].Path < transcripts[j].Path
	})
	return transcripts, nil
}
