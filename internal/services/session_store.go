package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/vanpelt/claude-blocker/internal/claude/parser"
	"github.com/vanpelt/claude-blocker/internal/claude/paths"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/recovery"
)

var (
	// ErrUnknownEvent is returned for hook event names the tracker does not handle
	ErrUnknownEvent = errors.New("unknown hook event")
	// ErrMissingSessionID is returned for events without a session id
	ErrMissingSessionID = errors.New("missing session id")
)

const (
	maxRecentTools    = 5
	maxToolInputRunes = 200
)

// TranscriptParser is what the store and backfill need to read transcripts
type TranscriptParser interface {
	ParseFile(path string) (*parser.Summary, error)
}

// TranscriptWatcher refreshes session activity when a transcript is written to
type TranscriptWatcher interface {
	Watch(path string)
	Unwatch(path string)
}

// SessionStoreOptions tunes the state machine
type SessionStoreOptions struct {
	DebounceWindow time.Duration
	StaleTimeout   time.Duration
	SweepInterval  time.Duration
	AskUserTools   []string
	// ProjectsDir locates transcripts for events that did not carry a transcript path
	ProjectsDir string
}

// DefaultSessionStoreOptions derives options from the runtime configuration
func DefaultSessionStoreOptions() SessionStoreOptions {
	rc := config.Runtime
	return SessionStoreOptions{
		DebounceWindow: rc.DebounceWindow,
		StaleTimeout:   rc.StaleTimeout,
		SweepInterval:  rc.SweepInterval,
		AskUserTools:   rc.AskUserTools,
		ProjectsDir:    rc.ProjectsDir,
	}
}

// SessionStore is the single authoritative owner of live sessions. Events for one session
// id are applied one at a time; different ids proceed concurrently. Stored sessions are
// never mutated in place: handlers work on a clone and swap it in, so readers only need
// the map lock.
type SessionStore struct {
	opts    SessionStoreOptions
	askUser map[string]bool

	parser      TranscriptParser
	history     *HistoryStore
	stats       *StatsStore
	broadcaster *Broadcaster
	watcher     TranscriptWatcher
	now         func() time.Time

	mu        sync.RWMutex
	sessions  map[string]*models.Session
	subagents map[string]map[string]*models.Subagent
	// startDays holds the day a live session was counted as started on
	startDays map[string]string

	locks *keyedMutex

	// publishMu keeps snapshots reaching the broadcaster in the order they were taken
	publishMu sync.Mutex

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closed      bool
}

// NewSessionStore wires the store to its collaborators. broadcaster may be nil.
func NewSessionStore(opts SessionStoreOptions, p TranscriptParser, history *HistoryStore, stats *StatsStore, broadcaster *Broadcaster) *SessionStore {
	askUser := make(map[string]bool, len(opts.AskUserTools))
	for _, name := range opts.AskUserTools {
		askUser[name] = true
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
	}

	return &SessionStore{
		opts:        opts,
		askUser:     askUser,
		parser:      p,
		history:     history,
		stats:       stats,
		broadcaster: broadcaster,
		now:         time.Now,
		sessions:    make(map[string]*models.Session),
		subagents:   make(map[string]map[string]*models.Subagent),
		startDays:   make(map[string]string),
		locks:       newKeyedMutex(),
	}
}

// SetWatcher attaches a transcript watcher
func (s *SessionStore) SetWatcher(w TranscriptWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcher = w
}

// Broadcaster returns the broadcaster state changes are published on
func (s *SessionStore) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// History returns the backing history store
func (s *SessionStore) History() *HistoryStore {
	return s.history
}

// Stats returns the backing daily stats store
func (s *SessionStore) Stats() *StatsStore {
	return s.stats
}

// HandleEvent applies one hook event. Per-event problems never affect other sessions;
// only malformed events are rejected.
func (s *SessionStore) HandleEvent(ctx context.Context, ev *models.HookEvent) error {
	if ev == nil || ev.SessionID == "" {
		return ErrMissingSessionID
	}
	if !ev.HookEventName.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.HookEventName)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locks.Lock(ev.SessionID)
	defer unlock()

	now := s.now()
	logger.Debugf("🪝 %s for session %s", ev.HookEventName, ev.SessionID)

	switch ev.HookEventName {
	case models.HookSessionStart:
		s.handleSessionStart(ev, now)
	case models.HookSessionEnd:
		s.handleSessionEnd(ev, now)
	case models.HookUserPromptSubmit:
		s.handleUserPrompt(ev, now)
	case models.HookPreToolUse:
		s.handlePreToolUse(ev, now)
	case models.HookPostToolUse:
		s.handlePostToolUse(ev, now)
	case models.HookStop:
		s.handleStop(ev, now)
	case models.HookSubagentStart:
		s.handleSubagentStart(ev, now)
	case models.HookSubagentStop:
		s.handleSubagentStop(ev, now)
	}

	s.publish()
	return nil
}

func (s *SessionStore) handleSessionStart(ev *models.HookEvent, now time.Time) {
	sess := s.ensureSession(ev, now)
	s.store(sess)
}

func (s *SessionStore) handleSessionEnd(ev *models.HookEvent, now time.Time) {
	sess := s.ensureSession(ev, now)
	s.finishSession(sess, now, models.EndReasonSessionEnd)
}

func (s *SessionStore) handleUserPrompt(ev *models.HookEvent, now time.Time) {
	sess := s.ensureSession(ev, now)
	s.setStatus(sess, models.StatusWorking, now)
	accumulateEventUsage(sess, ev)
	s.store(sess)
}

func (s *SessionStore) handlePreToolUse(ev *models.HookEvent, now time.Time) {
	sess := s.ensureSession(ev, now)

	sess.ToolCount++
	if ev.ToolName != "" {
		sess.LastTool = ev.ToolName
		tool := models.ToolInfo{Name: ev.ToolName, Timestamp: now}
		if input := extractToolInput(ev.ToolInput); !input.IsEmpty() {
			tool.Input = &input
		}
		sess.RecentTools = append([]models.ToolInfo{tool}, sess.RecentTools...)
		if len(sess.RecentTools) > maxRecentTools {
			sess.RecentTools = sess.RecentTools[:maxRecentTools]
		}
	}

	switch {
	case s.askUser[ev.ToolName]:
		s.enterWaiting(sess, now)
	case sess.Status == models.StatusWaitingForInput:
		if s.debounceElapsed(sess, now) {
			s.setStatus(sess, models.StatusWorking, now)
		}
	default:
		s.setStatus(sess, models.StatusWorking, now)
	}

	accumulateEventUsage(sess, ev)
	s.store(sess)
}

func (s *SessionStore) handlePostToolUse(ev *models.HookEvent, now time.Time) {
	sess := s.ensureSession(ev, now)
	accumulateEventUsage(sess, ev)
	s.store(sess)
}

func (s *SessionStore) handleStop(ev *models.HookEvent, now time.Time) {
	sess := s.ensureSession(ev, now)
	if sess.Status != models.StatusWaitingForInput || s.debounceElapsed(sess, now) {
		s.setStatus(sess, models.StatusIdle, now)
	}
	accumulateEventUsage(sess, ev)
	s.store(sess)
}

func (s *SessionStore) handleSubagentStart(ev *models.HookEvent, now time.Time) {
	sess := s.ensureSession(ev, now)

	if ev.AgentID != "" {
		s.mu.Lock()
		agents, ok := s.subagents[sess.ID]
		if !ok {
			agents = make(map[string]*models.Subagent)
			s.subagents[sess.ID] = agents
		}
		agents[ev.AgentID] = &models.Subagent{
			SessionID: sess.ID,
			AgentID:   ev.AgentID,
			AgentType: ev.AgentType,
			StartTime: now,
		}
		sess.SubagentCount = len(agents)
		s.mu.Unlock()
	}
	s.store(sess)
}

func (s *SessionStore) handleSubagentStop(ev *models.HookEvent, now time.Time) {
	sess := s.ensureSession(ev, now)

	// parse outside the map lock; only this session's id lock is held
	if ev.AgentTranscriptPath != "" && s.parser != nil {
		summary, err := s.parser.ParseFile(ev.AgentTranscriptPath)
		switch {
		case err != nil:
			logger.Debugf("⚠️  No subagent usage for %s: %v", sess.ID, err)
		case summary.HasUsage():
			sess.TokenUsage.Add(summary.Usage)
			sess.ModelBreakdown = models.MergeBreakdown(sess.ModelBreakdown, summary.ModelBreakdown)
			if sess.Model == "" {
				sess.Model = summary.Model
			}
		}
	}

	if ev.AgentID != "" {
		s.mu.Lock()
		if agents, ok := s.subagents[sess.ID]; ok {
			delete(agents, ev.AgentID)
			sess.SubagentCount = len(agents)
			if len(agents) == 0 {
				delete(s.subagents, sess.ID)
			}
		}
		s.mu.Unlock()
	}
	s.store(sess)
}

// ensureSession returns a working copy of the live session for ev, creating it when the
// id is unseen. A new session whose id is in history resumes it: original start time,
// initial cwd and usage are restored. A new session whose transcript backfill already
// merged is not counted as started again. Caller must hold the id lock.
func (s *SessionStore) ensureSession(ev *models.HookEvent, now time.Time) *models.Session {
	s.mu.RLock()
	current, ok := s.sessions[ev.SessionID]
	s.mu.RUnlock()

	var sess *models.Session
	watched := ""
	fresh := false
	if ok {
		sess = current.Clone()
		watched = current.TranscriptPath
	} else {
		sess = &models.Session{
			ID:               ev.SessionID,
			Status:           models.StatusIdle,
			StartTime:        now,
			LastStatusChange: now,
			RecentTools:      []models.ToolInfo{},
		}

		if prev, found := s.history.Get(ev.SessionID); found {
			sess.StartTime = prev.StartTime
			sess.InitialCwd = prev.InitialCwd
			sess.Cwd = prev.Cwd
			sess.ProjectName = prev.ProjectName
			sess.TranscriptPath = prev.TranscriptPath
			sess.ToolCount = prev.ToolCount
			sess.LastTool = prev.LastTool
			sess.TokenUsage = prev.TokenUsage
			sess.Model = prev.Model
			sess.ModelBreakdown = models.CloneBreakdown(prev.ModelBreakdown)
			logger.Infof("🔁 Resumed session %s (started %s)", sess.ID, sess.StartTime.Format(time.RFC3339))
		} else {
			fresh = true
		}
	}

	s.updateLocation(sess, ev)
	if fresh {
		if sess.TranscriptPath != "" && s.stats.IsProcessed(sess.TranscriptPath) {
			logger.Infof("🔁 Resumed backfilled session %s", sess.ID)
		} else {
			day := models.DateKey(now)
			s.stats.Merge(day, models.DailyStats{SessionsStarted: 1})
			s.mu.Lock()
			s.startDays[sess.ID] = day
			s.mu.Unlock()
			logger.Infof("🆕 Tracking session %s", sess.ID)
		}
	}
	if sess.TranscriptPath != watched {
		s.mu.RLock()
		w := s.watcher
		s.mu.RUnlock()
		if w != nil {
			if watched != "" {
				w.Unwatch(watched)
			}
			if sess.TranscriptPath != "" {
				w.Watch(sess.TranscriptPath)
			}
		}
	}
	sess.LastActivity = now
	return sess
}

func (s *SessionStore) updateLocation(sess *models.Session, ev *models.HookEvent) {
	if ev.Cwd != "" {
		sess.Cwd = ev.Cwd
		if sess.InitialCwd == "" {
			sess.InitialCwd = ev.Cwd
		}
		if sess.ProjectName == "" {
			sess.ProjectName = paths.ProjectName(sess.InitialCwd)
		}
	}

	if ev.TranscriptPath != "" {
		sess.TranscriptPath = ev.TranscriptPath
	}
}

// setStatus moves sess to status, crediting the time spent in the old status to today's
// stats. waitingForInputSince is kept in step with the status.
func (s *SessionStore) setStatus(sess *models.Session, status models.SessionStatus, now time.Time) {
	if sess.Status == status {
		return
	}
	s.accrueStatusTime(sess, now)

	sess.Status = status
	sess.LastStatusChange = now
	if status == models.StatusWaitingForInput {
		since := now
		sess.WaitingForInputSince = &since
	} else {
		sess.WaitingForInputSince = nil
	}
}

// enterWaiting moves sess to waiting for input. An ask while already waiting restarts the
// debounce window from now.
func (s *SessionStore) enterWaiting(sess *models.Session, now time.Time) {
	if sess.Status != models.StatusWaitingForInput {
		s.setStatus(sess, models.StatusWaitingForInput, now)
		return
	}
	s.accrueStatusTime(sess, now)
	sess.LastStatusChange = now
	since := now
	sess.WaitingForInputSince = &since
}

func (s *SessionStore) accrueStatusTime(sess *models.Session, until time.Time) {
	elapsed := until.Sub(sess.LastStatusChange).Milliseconds()
	if elapsed <= 0 {
		return
	}
	s.stats.Merge(models.DateKey(until), statusDelta(sess.Status, elapsed))
}

func statusDelta(status models.SessionStatus, ms int64) models.DailyStats {
	var delta models.DailyStats
	switch status {
	case models.StatusWorking:
		delta.TotalWorkingMs = ms
	case models.StatusWaitingForInput:
		delta.TotalWaitingMs = ms
	default:
		delta.TotalIdleMs = ms
	}
	return delta
}

// debounceElapsed reports whether sess has been waiting for longer than the debounce window
func (s *SessionStore) debounceElapsed(sess *models.Session, now time.Time) bool {
	if sess.WaitingForInputSince == nil {
		return true
	}
	return now.Sub(*sess.WaitingForInputSince) > s.opts.DebounceWindow
}

// finishSession reconciles usage against the transcript, records the session in history
// and removes it from the live map. Caller must hold the id lock.
func (s *SessionStore) finishSession(sess *models.Session, now time.Time, reason models.EndReason) {
	endTime := now
	if reason == models.EndReasonStale && !sess.LastActivity.IsZero() {
		endTime = sess.LastActivity
	}

	watched := sess.TranscriptPath
	transcript := sess.TranscriptPath
	if transcript == "" {
		transcript = paths.ResolveTranscript(s.opts.ProjectsDir, sess.Cwd, sess.ID)
		sess.TranscriptPath = transcript
	}

	// The one blocking read on the critical path: authoritative usage must be committed
	// before the session leaves the live map.
	if transcript != "" && s.parser != nil {
		summary, err := s.parser.ParseFile(transcript)
		switch {
		case err != nil:
			logger.Debugf("⚠️  Keeping live usage for %s: %v", sess.ID, err)
		case summary.HasUsage():
			sess.TokenUsage = summary.Usage
			sess.ModelBreakdown = summary.ModelBreakdown
			if summary.Model != "" {
				sess.Model = summary.Model
			}
		}
	}

	s.accrueStatusTime(sess, endTime)

	s.mu.Lock()
	startDay, counted := s.startDays[sess.ID]
	delete(s.startDays, sess.ID)
	s.mu.Unlock()

	var merged *models.TranscriptContribution
	processed := false
	if transcript != "" {
		merged, processed = s.stats.Contribution(transcript)
	}

	entry := models.NewHistoricalSession(sess, endTime, reason)
	previous, resumed := s.history.Upsert(entry)

	delta := models.DailyStats{}
	switch {
	case resumed:
		delta.AddUsage(entry.TokenUsage.Sub(previous.TokenUsage))
		delta.ModelBreakdown = breakdownDelta(entry.ModelBreakdown, previous.ModelBreakdown)
	case processed:
		// this transcript was already counted as a started and ended session
		if counted {
			s.stats.Merge(startDay, models.DailyStats{SessionsStarted: -1})
		}
		if merged != nil {
			delta.AddUsage(entry.TokenUsage.Sub(merged.TokenUsage))
			delta.ModelBreakdown = breakdownDelta(entry.ModelBreakdown, merged.ModelBreakdown)
		}
	default:
		delta.SessionsEnded = 1
		delta.AddUsage(entry.TokenUsage)
		delta.ModelBreakdown = models.CloneBreakdown(entry.ModelBreakdown)
	}
	s.stats.Merge(models.DateKey(endTime), delta)
	if transcript != "" {
		s.stats.RecordContribution(transcript, models.TranscriptContribution{
			TokenUsage:     entry.TokenUsage,
			ModelBreakdown: models.CloneBreakdown(entry.ModelBreakdown),
		})
	}

	s.mu.Lock()
	delete(s.sessions, sess.ID)
	delete(s.subagents, sess.ID)
	w := s.watcher
	s.mu.Unlock()
	if w != nil && watched != "" {
		w.Unwatch(watched)
	}

	logger.Infof("🏁 Session %s ended (%s): %d tokens, $%.4f", sess.ID, reason, sess.TotalTokens, sess.CostUSD)
}

// breakdownDelta returns current minus previous per model, dropping models that did not grow
func breakdownDelta(current, previous map[string]*models.TokenUsage) map[string]*models.TokenUsage {
	out := make(map[string]*models.TokenUsage)
	for model, usage := range current {
		if usage == nil {
			continue
		}
		d := *usage
		if prev, ok := previous[model]; ok && prev != nil {
			d = usage.Sub(*prev)
		}
		if !d.IsZero() {
			out[model] = &d
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *SessionStore) store(sess *models.Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

func accumulateEventUsage(sess *models.Session, ev *models.HookEvent) {
	if usage, ok := ev.Usage(); ok {
		sess.TokenUsage.Add(usage)
	}
}

// extractToolInput keeps only a few well-known fields of a tool's input
func extractToolInput(raw json.RawMessage) models.ToolInput {
	if len(raw) == 0 {
		return models.ToolInput{}
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.ToolInput{}
	}

	str := func(keys ...string) string {
		for _, key := range keys {
			if v, ok := fields[key].(string); ok && v != "" {
				return truncateRunes(v, maxToolInputRunes)
			}
		}
		return ""
	}
	return models.ToolInput{
		FilePath:    str("file_path", "notebook_path", "path"),
		Command:     str("command"),
		Pattern:     str("pattern"),
		Description: str("description"),
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Touch refreshes lastActivity of a live session
func (s *SessionStore) Touch(id string) bool {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	current, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	sess := current.Clone()
	sess.LastActivity = s.now()
	s.store(sess)
	return true
}

// TouchTranscript refreshes every live session writing to path
func (s *SessionStore) TouchTranscript(path string) {
	s.mu.RLock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.TranscriptPath == path {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Touch(id)
	}
}

// IsTranscriptLive reports whether a live session is still writing to path
func (s *SessionStore) IsTranscriptLive(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.TranscriptPath == path {
			return true
		}
	}
	return false
}

// Get returns a copy of the live session with id
func (s *SessionStore) Get(id string) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Sessions returns copies of every live session, oldest first
func (s *SessionStore) Sessions() []*models.Session {
	s.mu.RLock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Subagents returns the tracked sub-agents of a session
func (s *SessionStore) Subagents(id string) []models.Subagent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.MapToSlice(s.subagents[id], func(_ string, agent *models.Subagent) models.Subagent {
		return *agent
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// State derives the broadcast snapshot. Blocked means nothing is working; sessions waiting
// for input are expected to be answered by a person and do not unblock.
func (s *SessionStore) State() models.StateSnapshot {
	sessions := s.Sessions()
	snapshot := models.StateSnapshot{
		Type:     string(StateEvent),
		Sessions: sessions,
		Working: lo.CountBy(sessions, func(sess *models.Session) bool {
			return sess.Status == models.StatusWorking
		}),
		WaitingForInput: lo.CountBy(sessions, func(sess *models.Session) bool {
			return sess.Status == models.StatusWaitingForInput
		}),
	}
	snapshot.Blocked = snapshot.Working == 0
	return snapshot
}

func (s *SessionStore) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.broadcaster.Publish(NewEvent(StateEvent, s.State()))
}

// Start launches the staleness sweep. It stops when ctx is done or Close is called.
func (s *SessionStore) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cancel != nil || s.closed {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	interval := s.opts.SweepInterval
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}

	recovery.SafeGoGroup(&s.wg, "session-sweep", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				return
			}
		}
	})
}

// Sweep ends every session idle for longer than the stale timeout and returns how many
func (s *SessionStore) Sweep() int {
	if s.opts.StaleTimeout <= 0 {
		return 0
	}
	now := s.now()

	s.mu.RLock()
	var stale []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.opts.StaleTimeout {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	ended := 0
	for _, id := range stale {
		unlock := s.locks.Lock(id)
		s.mu.RLock()
		current, ok := s.sessions[id]
		s.mu.RUnlock()
		// an event may have refreshed it while we waited for the lock
		if ok && now.Sub(current.LastActivity) > s.opts.StaleTimeout {
			logger.Infof("🧹 Session %s is stale (last activity %s ago)", id, now.Sub(current.LastActivity).Round(time.Second))
			s.finishSession(current.Clone(), now, models.EndReasonStale)
			ended++
		}
		unlock()
	}

	if ended > 0 {
		s.publish()
	}
	return ended
}

// Close stops the sweep and flushes pending history and stats writes
func (s *SessionStore) Close() error {
	s.lifecycleMu.Lock()
	if s.closed {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.lifecycleMu.Unlock()

	s.wg.Wait()

	return errors.Join(s.history.Close(), s.stats.Close())
}
