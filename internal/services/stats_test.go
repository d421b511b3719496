package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanpelt/claude-blocker/internal/fileutil"
	"github.com/vanpelt/claude-blocker/internal/models"
)

func TestStatsStore_MergeIsAdditive(t *testing.T) {
	s := NewStatsStore(filepath.Join(t.TempDir(), "stats.json"), time.Hour)

	s.Merge("2025-03-01", models.DailyStats{TotalWorkingMs: 100, SessionsStarted: 1, InputTokens: 10, TotalTokens: 10})
	s.Merge("2025-03-01", models.DailyStats{
		TotalWorkingMs: 50,
		SessionsEnded:  1,
		TotalTokens:    5,
		TotalCostUSD:   0.25,
		ModelBreakdown: map[string]*models.TokenUsage{"claude-opus-4-5": {TotalTokens: 5}},
	})

	day, ok := s.Get("2025-03-01")
	require.True(t, ok)
	assert.Equal(t, "2025-03-01", day.Date)
	assert.Equal(t, int64(150), day.TotalWorkingMs)
	assert.Equal(t, 1, day.SessionsStarted)
	assert.Equal(t, 1, day.SessionsEnded)
	assert.Equal(t, int64(15), day.TotalTokens)
	assert.InDelta(t, 0.25, day.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(5), day.ModelBreakdown["claude-opus-4-5"].TotalTokens)

	_, ok = s.Get("2025-03-02")
	assert.False(t, ok)
}

func TestStatsStore_RangeAndTotals(t *testing.T) {
	s := NewStatsStore(filepath.Join(t.TempDir(), "stats.json"), time.Hour)
	for _, date := range []string{"2025-03-03", "2025-03-01", "2025-03-02", "2025-02-28"} {
		s.Merge(date, models.DailyStats{TotalTokens: 1, SessionsStarted: 1})
	}

	days := s.Range("2025-03-01", "2025-03-02")
	require.Len(t, days, 2)
	assert.Equal(t, "2025-03-01", days[0].Date)
	assert.Equal(t, "2025-03-02", days[1].Date)

	assert.Len(t, s.Range("", ""), 4)
	assert.Len(t, s.Range("2025-03-02", ""), 2)

	totals := s.Totals("", "2025-03-01")
	assert.Equal(t, int64(2), totals.TotalTokens)
	assert.Equal(t, 2, totals.SessionsStarted)
}

func TestStatsStore_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	s := NewStatsStore(path, time.Hour)

	completed := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	s.Merge("2025-03-01", models.DailyStats{TotalIdleMs: 7})
	s.RecordContribution("/p/b.jsonl", models.TranscriptContribution{})
	s.RecordContribution("/p/a.jsonl", models.TranscriptContribution{
		TokenUsage:     models.TokenUsage{InputTokens: 40, TotalTokens: 40},
		ModelBreakdown: map[string]*models.TokenUsage{"opus": {TotalTokens: 40}},
	})
	s.RecordContribution("", models.TranscriptContribution{})
	s.SetLastBackfill(completed)
	require.NoError(t, s.Close())

	var raw models.HistoricalStatsData
	require.NoError(t, fileutil.ReadJSON(path, &raw))
	assert.Equal(t, StatsSchemaVersion, raw.Version)
	assert.Equal(t, []string{"/p/a.jsonl", "/p/b.jsonl"}, raw.ProcessedFiles)

	reloaded := NewStatsStore(path, time.Hour)
	migrated, err := reloaded.Load()
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.True(t, reloaded.IsProcessed("/p/a.jsonl"))
	assert.Equal(t, 2, reloaded.ProcessedCount())

	merged, processed := reloaded.Contribution("/p/a.jsonl")
	require.True(t, processed)
	require.NotNil(t, merged)
	assert.Equal(t, int64(40), merged.TotalTokens)
	assert.Equal(t, int64(40), merged.ModelBreakdown["opus"].TotalTokens)

	_, processed = reloaded.Contribution("/p/unknown.jsonl")
	assert.False(t, processed)
	require.NotNil(t, reloaded.LastBackfill())
	assert.True(t, completed.Equal(*reloaded.LastBackfill()))

	day, ok := reloaded.Get("2025-03-01")
	require.True(t, ok)
	assert.Equal(t, int64(7), day.TotalIdleMs)
}

func TestStatsStore_OlderSchemaIsMigrated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	last := time.Now()
	require.NoError(t, fileutil.WriteJSON(path, models.HistoricalStatsData{
		Version:        StatsSchemaVersion - 1,
		LastBackfill:   &last,
		DailyStats:     map[string]*models.DailyStats{"2025-01-01": {TotalTokens: 99}},
		ProcessedFiles: []string{"/p/a.jsonl"},
	}))

	s := NewStatsStore(path, time.Hour)
	migrated, err := s.Load()
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.False(t, s.IsProcessed("/p/a.jsonl"))
	assert.Nil(t, s.LastBackfill())
	assert.Empty(t, s.Range("", ""))

	var raw models.HistoricalStatsData
	require.NoError(t, fileutil.ReadJSON(path, &raw))
	assert.Equal(t, StatsSchemaVersion, raw.Version, "migrated file is rewritten immediately")
	assert.Empty(t, raw.ProcessedFiles)
}

func TestStatsStore_MissingFile(t *testing.T) {
	s := NewStatsStore(filepath.Join(t.TempDir(), "stats.json"), time.Hour)
	migrated, err := s.Load()
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Equal(t, 0, s.ProcessedCount())
}
