package models

import (
	"time"
)

// SessionStatus is the activity state of a tracked Claude Code session
type SessionStatus string

const (
	StatusIdle            SessionStatus = "idle"
	StatusWorking         SessionStatus = "working"
	StatusWaitingForInput SessionStatus = "waiting_for_input"
)

// Valid reports whether s is one of the three defined statuses
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusWaitingForInput:
		return true
	}
	return false
}

// EndReason records why a session left the live map
type EndReason string

const (
	EndReasonSessionEnd EndReason = "session_end"
	EndReasonStale      EndReason = "stale"
)

// ToolInput is the whitelisted subset of a tool invocation's input that we keep around
type ToolInput struct {
	FilePath    string `json:"filePath,omitempty"`
	Command     string `json:"command,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
	Description string `json:"description,omitempty"`
}

// IsEmpty reports whether no whitelisted field was extracted
func (t ToolInput) IsEmpty() bool {
	return t.FilePath == "" && t.Command == "" && t.Pattern == "" && t.Description == ""
}

// ToolInfo describes one tool invocation in a session's recent tool list
type ToolInfo struct {
	Name      string     `json:"name"`
	Timestamp time.Time  `json:"timestamp"`
	Input     *ToolInput `json:"input,omitempty"`
}

// Session is the live, mutable view of a Claude Code session.
// It is owned by the session store; everything handed out is a copy.
type Session struct {
	ID                   string        `json:"id"`
	Status               SessionStatus `json:"status"`
	ProjectName          string        `json:"projectName"`
	InitialCwd           string        `json:"initialCwd,omitempty"`
	Cwd                  string        `json:"cwd,omitempty"`
	TranscriptPath       string        `json:"transcriptPath,omitempty"`
	StartTime            time.Time     `json:"startTime"`
	LastActivity         time.Time     `json:"lastActivity"`
	LastStatusChange     time.Time     `json:"lastStatusChange"`
	WaitingForInputSince *time.Time    `json:"waitingForInputSince,omitempty"`
	ToolCount            int           `json:"toolCount"`
	LastTool             string        `json:"lastTool,omitempty"`
	RecentTools          []ToolInfo    `json:"recentTools"`
	SubagentCount        int           `json:"subagentCount"`

	TokenUsage
	Model          string                 `json:"model,omitempty"`
	ModelBreakdown map[string]*TokenUsage `json:"modelBreakdown,omitempty"`
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.WaitingForInputSince != nil {
		t := *s.WaitingForInputSince
		c.WaitingForInputSince = &t
	}
	c.RecentTools = make([]ToolInfo, len(s.RecentTools))
	for i, tool := range s.RecentTools {
		c.RecentTools[i] = tool
		if tool.Input != nil {
			in := *tool.Input
			c.RecentTools[i].Input = &in
		}
	}
	c.ModelBreakdown = CloneBreakdown(s.ModelBreakdown)
	return &c
}

// HistoricalSession is an immutable snapshot of a session that has left the live map
type HistoricalSession struct {
	ID              string    `json:"id"`
	ProjectName     string    `json:"projectName"`
	InitialCwd      string    `json:"initialCwd,omitempty"`
	Cwd             string    `json:"cwd,omitempty"`
	TranscriptPath  string    `json:"transcriptPath,omitempty"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	TotalDurationMs int64     `json:"totalDurationMs"`
	ToolCount       int       `json:"toolCount"`
	LastTool        string    `json:"lastTool,omitempty"`
	EndReason       EndReason `json:"endReason,omitempty"`

	TokenUsage
	Model          string                 `json:"model,omitempty"`
	ModelBreakdown map[string]*TokenUsage `json:"modelBreakdown,omitempty"`
}

// NewHistoricalSession snapshots a live session at endTime
func NewHistoricalSession(s *Session, endTime time.Time, reason EndReason) HistoricalSession {
	duration := endTime.Sub(s.StartTime).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	return HistoricalSession{
		ID:              s.ID,
		ProjectName:     s.ProjectName,
		InitialCwd:      s.InitialCwd,
		Cwd:             s.Cwd,
		TranscriptPath:  s.TranscriptPath,
		StartTime:       s.StartTime,
		EndTime:         endTime,
		TotalDurationMs: duration,
		ToolCount:       s.ToolCount,
		LastTool:        s.LastTool,
		EndReason:       reason,
		TokenUsage:      s.TokenUsage,
		Model:           s.Model,
		ModelBreakdown:  CloneBreakdown(s.ModelBreakdown),
	}
}

// StateSnapshot is the derived state broadcast to every consumer after a mutation
type StateSnapshot struct {
	Type            string     `json:"type"`
	Blocked         bool       `json:"blocked"`
	Sessions        []*Session `json:"sessions"`
	Working         int        `json:"working"`
	WaitingForInput int        `json:"waitingForInput"`
}

// Subagent tracks a nested unit of work dispatched by a parent session
type Subagent struct {
	SessionID string    `json:"sessionId"`
	AgentID   string    `json:"agentId"`
	AgentType string    `json:"agentType,omitempty"`
	StartTime time.Time `json:"startTime"`
}
