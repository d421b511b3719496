package services

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/vanpelt/claude-blocker/internal/fileutil"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
)

// HistoryVersion is the schema version of the sessions history file
const HistoryVersion = 1

type historyFile struct {
	Version  int                        `json:"version"`
	Sessions []models.HistoricalSession `json:"sessions"`
}

// HistoryStore keeps ended sessions for a bounded retention window, at most one entry per
// session id. Writes are debounced.
type HistoryStore struct {
	path      string
	retention time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	sessions []models.HistoricalSession

	writer *debouncedWriter
}

// NewHistoryStore creates a store persisting to path
func NewHistoryStore(path string, retention, persistDelay time.Duration) *HistoryStore {
	h := &HistoryStore{
		path:      path,
		retention: retention,
		now:       time.Now,
	}
	h.writer = newDebouncedWriter("session history", persistDelay, h.save)
	return h
}

// Load reads the history file. A missing file is an empty history; a corrupt one is logged,
// replaced by an empty history and reported.
func (h *HistoryStore) Load() error {
	var file historyFile
	if err := fileutil.ReadJSON(h.path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		logger.Warnf("⚠️  Starting with empty session history: %v", err)
		return fmt.Errorf("failed to load session history: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// keep the newest entry per id
	seen := make(map[string]bool, len(file.Sessions))
	h.sessions = h.sessions[:0]
	for _, s := range file.Sessions {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		h.sessions = append(h.sessions, s)
	}
	if dropped := h.pruneLocked(); dropped > 0 {
		h.writer.Schedule()
	}
	logger.Debugf("📚 Loaded %d historical sessions", len(h.sessions))
	return nil
}

// Upsert records an ended session. An existing entry for the id is updated in place and
// keeps its original start time; the previous entry is returned so callers can compute
// what changed.
func (h *HistoryStore) Upsert(entry models.HistoricalSession) (models.HistoricalSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry.ModelBreakdown = models.CloneBreakdown(entry.ModelBreakdown)

	var previous models.HistoricalSession
	found := false
	for i := range h.sessions {
		if h.sessions[i].ID != entry.ID {
			continue
		}
		previous = cloneHistorical(h.sessions[i])
		found = true
		if !previous.StartTime.IsZero() && (entry.StartTime.IsZero() || previous.StartTime.Before(entry.StartTime)) {
			entry.StartTime = previous.StartTime
			entry.TotalDurationMs = max(entry.EndTime.Sub(entry.StartTime).Milliseconds(), 0)
		}
		if entry.InitialCwd == "" {
			entry.InitialCwd = previous.InitialCwd
		}
		h.sessions[i] = entry
		break
	}
	if !found {
		h.sessions = append([]models.HistoricalSession{entry}, h.sessions...)
	}

	h.pruneLocked()
	h.writer.Schedule()
	return previous, found
}

// Get returns the entry for id
func (h *HistoryStore) Get(id string) (models.HistoricalSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.sessions {
		if s.ID == id {
			return cloneHistorical(s), true
		}
	}
	return models.HistoricalSession{}, false
}

// Recent returns up to limit entries, most recently ended first. limit <= 0 returns all.
func (h *HistoryStore) Recent(limit int) []models.HistoricalSession {
	h.mu.RLock()
	out := make([]models.HistoricalSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, cloneHistorical(s))
	}
	h.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndTime.After(out[j].EndTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of retained entries
func (h *HistoryStore) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Flush writes pending changes synchronously
func (h *HistoryStore) Flush() error {
	return h.writer.Flush()
}

// Close flushes and stops the debounce timer
func (h *HistoryStore) Close() error {
	return h.writer.Close()
}

// pruneLocked drops entries that ended before the retention window (caller must hold lock)
func (h *HistoryStore) pruneLocked() int {
	if h.retention <= 0 {
		return 0
	}
	cutoff := h.now().Add(-h.retention)

	kept := h.sessions[:0]
	for _, s := range h.sessions {
		if s.EndTime.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
	}
	dropped := len(h.sessions) - len(kept)
	h.sessions = kept
	return dropped
}

func (h *HistoryStore) save() error {
	h.mu.Lock()
	h.pruneLocked()
	file := historyFile{
		Version:  HistoryVersion,
		Sessions: make([]models.HistoricalSession, 0, len(h.sessions)),
	}
	for _, s := range h.sessions {
		file.Sessions = append(file.Sessions, cloneHistorical(s))
	}
	h.mu.Unlock()

	if err := fileutil.WriteJSON(h.path, file); err != nil {
		return err
	}
	logger.Debugf("💾 Saved %d historical sessions", len(file.Sessions))
	return nil
}

func cloneHistorical(s models.HistoricalSession) models.HistoricalSession {
	s.ModelBreakdown = models.CloneBreakdown(s.ModelBreakdown)
	return s
}
