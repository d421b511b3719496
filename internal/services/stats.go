package services

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/vanpelt/claude-blocker/internal/fileutil"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
)

// StatsSchemaVersion is bumped whenever transcript parsing changes incompatibly. Loading
// an older file discards its daily stats and processed set so backfill re-derives them.
const StatsSchemaVersion = 2

// StatsStore holds day-bucketed statistics plus the set of transcripts already merged
type StatsStore struct {
	path string

	mu            sync.RWMutex
	days          map[string]*models.DailyStats
	processed     map[string]struct{}
	contributions map[string]*models.TranscriptContribution
	lastBackfill  *time.Time

	writer *debouncedWriter
}

// NewStatsStore creates a store persisting to path
func NewStatsStore(path string, persistDelay time.Duration) *StatsStore {
	s := &StatsStore{
		path:          path,
		days:          make(map[string]*models.DailyStats),
		processed:     make(map[string]struct{}),
		contributions: make(map[string]*models.TranscriptContribution),
	}
	s.writer = newDebouncedWriter("historical stats", persistDelay, s.save)
	return s
}

// Load reads the stats file. migrated reports that an older schema was discarded; the
// new version has already been written when that happens.
func (s *StatsStore) Load() (migrated bool, err error) {
	var data models.HistoricalStatsData
	if err := fileutil.ReadJSON(s.path, &data); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		logger.Warnf("⚠️  Starting with empty historical stats: %v", err)
		return false, fmt.Errorf("failed to load historical stats: %w", err)
	}

	if data.Version < StatsSchemaVersion {
		logger.Infof("🔄 Migrating historical stats from v%d to v%d, backfill will re-process %d transcripts",
			data.Version, StatsSchemaVersion, len(data.ProcessedFiles))

		s.mu.Lock()
		s.days = make(map[string]*models.DailyStats)
		s.processed = make(map[string]struct{})
		s.contributions = make(map[string]*models.TranscriptContribution)
		s.lastBackfill = nil
		s.mu.Unlock()

		s.writer.Schedule()
		if err := s.writer.Flush(); err != nil {
			return true, fmt.Errorf("failed to write migrated historical stats: %w", err)
		}
		return true, nil
	}
	if data.Version > StatsSchemaVersion {
		logger.Warnf("⚠️  Historical stats version v%d is newer than v%d, loading anyway", data.Version, StatsSchemaVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.days = make(map[string]*models.DailyStats, len(data.DailyStats))
	for date, day := range data.DailyStats {
		if day == nil {
			continue
		}
		d := day.Clone()
		d.Date = date
		s.days[date] = &d
	}
	s.processed = make(map[string]struct{}, len(data.ProcessedFiles))
	for _, path := range data.ProcessedFiles {
		s.processed[path] = struct{}{}
	}
	s.contributions = make(map[string]*models.TranscriptContribution, len(data.Contributions))
	for path, c := range data.Contributions {
		if _, ok := s.processed[path]; !ok || c == nil {
			continue
		}
		s.contributions[path] = cloneContribution(c)
	}
	s.lastBackfill = data.LastBackfill

	logger.Debugf("📊 Loaded %d days of stats, %d processed transcripts", len(s.days), len(s.processed))
	return false, nil
}

// Merge adds delta into the stats for date
func (s *StatsStore) Merge(date string, delta models.DailyStats) {
	s.mu.Lock()
	day, ok := s.days[date]
	if !ok {
		day = &models.DailyStats{Date: date}
		s.days[date] = day
	}
	day.Merge(delta)
	s.mu.Unlock()

	s.writer.Schedule()
}

// Get returns the stats for date
func (s *StatsStore) Get(date string) (models.DailyStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day, ok := s.days[date]
	if !ok {
		return models.DailyStats{Date: date}, false
	}
	return day.Clone(), true
}

// Range returns every recorded day in [from, to], oldest first. Empty bounds are open.
func (s *StatsStore) Range(from, to string) []models.DailyStats {
	s.mu.RLock()
	dates := lo.Filter(lo.Keys(s.days), func(date string, _ int) bool {
		return (from == "" || date >= from) && (to == "" || date <= to)
	})
	sort.Strings(dates)

	out := make([]models.DailyStats, 0, len(dates))
	for _, date := range dates {
		out = append(out, s.days[date].Clone())
	}
	s.mu.RUnlock()
	return out
}

// Totals merges every day in [from, to] into one accumulator
func (s *StatsStore) Totals(from, to string) models.DailyStats {
	var total models.DailyStats
	for _, day := range s.Range(from, to) {
		total.Merge(day)
	}
	return total
}

// IsProcessed reports whether a transcript has already been merged
func (s *StatsStore) IsProcessed(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[path]
	return ok
}

// RecordContribution marks a transcript processed and remembers the usage it has merged
// in total, replacing any earlier record
func (s *StatsStore) RecordContribution(path string, c models.TranscriptContribution) {
	if path == "" {
		return
	}
	s.mu.Lock()
	s.processed[path] = struct{}{}
	s.contributions[path] = cloneContribution(&c)
	s.mu.Unlock()

	s.writer.Schedule()
}

// Contribution returns what a processed transcript has merged. processed is false for
// unknown transcripts; the record is nil when the transcript was marked without one.
func (s *StatsStore) Contribution(path string) (record *models.TranscriptContribution, processed bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.processed[path]; !ok {
		return nil, false
	}
	if c, ok := s.contributions[path]; ok {
		return cloneContribution(c), true
	}
	return nil, true
}

func cloneContribution(c *models.TranscriptContribution) *models.TranscriptContribution {
	out := *c
	out.ModelBreakdown = models.CloneBreakdown(c.ModelBreakdown)
	return &out
}

// ProcessedCount returns the size of the processed set
func (s *StatsStore) ProcessedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processed)
}

// LastBackfill returns when backfill last completed
func (s *StatsStore) LastBackfill() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBackfill == nil {
		return nil
	}
	t := *s.lastBackfill
	return &t
}

// SetLastBackfill records a completed backfill run
func (s *StatsStore) SetLastBackfill(t time.Time) {
	s.mu.Lock()
	s.lastBackfill = &t
	s.mu.Unlock()

	s.writer.Schedule()
}

// Flush writes pending changes synchronously
func (s *StatsStore) Flush() error {
	return s.writer.Flush()
}

// Close flushes and stops the debounce timer
func (s *StatsStore) Close() error {
	return s.writer.Close()
}

func (s *StatsStore) save() error {
	s.mu.RLock()
	data := models.HistoricalStatsData{
		Version:        StatsSchemaVersion,
		DailyStats:     make(map[string]*models.DailyStats, len(s.days)),
		ProcessedFiles: lo.Keys(s.processed),
		Contributions:  make(map[string]*models.TranscriptContribution, len(s.contributions)),
	}
	for path, c := range s.contributions {
		data.Contributions[path] = cloneContribution(c)
	}
	if s.lastBackfill != nil {
		t := *s.lastBackfill
		data.LastBackfill = &t
	}
	for date, day := range s.days {
		d := day.Clone()
		data.DailyStats[date] = &d
	}
	s.mu.RUnlock()

	sort.Strings(data.ProcessedFiles)
	return fileutil.WriteJSON(s.path, data)
}
