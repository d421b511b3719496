package services

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vanpelt/claude-blocker/internal/claude/parser"
	"github.com/vanpelt/claude-blocker/internal/claude/paths"
	"github.com/vanpelt/claude-blocker/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// close to wall time so retention windows keep what the tests write
	return &fakeClock{now: time.Now().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeParser serves canned summaries by path
type fakeParser struct {
	mu        sync.Mutex
	summaries map[string]*parser.Summary
	errs      map[string]error
	calls     map[string]int
	block     chan struct{}
}

func newFakeParser() *fakeParser {
	return &fakeParser{
		summaries: make(map[string]*parser.Summary),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (p *fakeParser) set(path string, s *parser.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries[path] = s
}

func (p *fakeParser) fail(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[path] = err
}

func (p *fakeParser) callCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

func (p *fakeParser) ParseFile(path string) (*parser.Summary, error) {
	if p.block != nil {
		<-p.block
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[path]++
	if err, ok := p.errs[path]; ok {
		return nil, err
	}
	s, ok := p.summaries[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	c := *s
	c.ModelBreakdown = models.CloneBreakdown(s.ModelBreakdown)
	return &c, nil
}

func usageSummary(model string, input, output int64, cost float64) *parser.Summary {
	u := models.TokenUsage{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
		CostUSD:      cost,
	}
	breakdown := u
	return &parser.Summary{
		Usage:          u,
		Model:          model,
		ModelBreakdown: map[string]*models.TokenUsage{model: &breakdown},
		Requests:       1,
	}
}

type testStore struct {
	*SessionStore
	clock  *fakeClock
	parser *fakeParser
	dir    string
}

func newTestStore(t *testing.T, mutate ...func(*SessionStoreOptions)) *testStore {
	t.Helper()

	dir := t.TempDir()
	clock := newFakeClock()
	p := newFakeParser()

	history := NewHistoryStore(filepath.Join(dir, "sessions-history.json"), 7*24*time.Hour, time.Hour)
	history.now = clock.Now
	stats := NewStatsStore(filepath.Join(dir, "historical-stats.json"), time.Hour)

	opts := SessionStoreOptions{
		DebounceWindow: 500 * time.Millisecond,
		StaleTimeout:   5 * time.Minute,
		SweepInterval:  time.Hour,
		AskUserTools:   []string{"AskUserQuestion", "ExitPlanMode"},
		ProjectsDir:    filepath.Join(dir, "projects"),
	}
	for _, m := range mutate {
		m(&opts)
	}

	store := NewSessionStore(opts, p, history, stats, nil)
	store.now = clock.Now
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return &testStore{SessionStore: store, clock: clock, parser: p, dir: dir}
}

func hookEvent(id string, name models.HookEventName) *models.HookEvent {
	return &models.HookEvent{SessionID: id, HookEventName: name, Cwd: "/work/project"}
}

func toolEvent(id, tool string) *models.HookEvent {
	ev := hookEvent(id, models.HookPreToolUse)
	ev.ToolName = tool
	return ev
}

func int64Ptr(v int64) *int64 { return &v }

// writeTranscriptFile creates an empty transcript where Claude would keep it for cwd
func writeTranscriptFile(t *testing.T, projectsDir, cwd, sessionID string) string {
	t.Helper()
	dir := paths.ProjectDir(projectsDir, cwd)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, sessionID+paths.TranscriptExt)
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))
	return path
}
