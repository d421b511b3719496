package models

import (
	"time"
)

// DateLayout is the calendar-day key format used for daily statistics
const DateLayout = "2006-01-02"

// DailyStats accumulates activity for one calendar day. Merges are additive.
type DailyStats struct {
	Date            string `json:"date"`
	TotalWorkingMs  int64  `json:"totalWorkingMs"`
	TotalWaitingMs  int64  `json:"totalWaitingMs"`
	TotalIdleMs     int64  `json:"totalIdleMs"`
	SessionsStarted int    `json:"sessionsStarted"`
	SessionsEnded   int    `json:"sessionsEnded"`

	InputTokens         int64                  `json:"inputTokens"`
	OutputTokens        int64                  `json:"outputTokens"`
	CacheCreationTokens int64                  `json:"cacheCreationTokens"`
	CacheReadTokens     int64                  `json:"cacheReadTokens"`
	TotalTokens         int64                  `json:"totalTokens"`
	TotalCostUSD        float64                `json:"totalCostUsd"`
	ModelBreakdown      map[string]*TokenUsage `json:"modelBreakdown,omitempty"`
}

// Merge adds every counter of delta into d. The date of d is kept.
func (d *DailyStats) Merge(delta DailyStats) {
	d.TotalWorkingMs += delta.TotalWorkingMs
	d.TotalWaitingMs += delta.TotalWaitingMs
	d.TotalIdleMs += delta.TotalIdleMs
	d.SessionsStarted += delta.SessionsStarted
	d.SessionsEnded += delta.SessionsEnded
	d.AddUsage(delta.Usage())
	d.ModelBreakdown = MergeBreakdown(d.ModelBreakdown, delta.ModelBreakdown)
}

// AddUsage adds token and cost totals
func (d *DailyStats) AddUsage(u TokenUsage) {
	d.InputTokens += u.InputTokens
	d.OutputTokens += u.OutputTokens
	d.CacheCreationTokens += u.CacheCreationTokens
	d.CacheReadTokens += u.CacheReadTokens
	d.TotalTokens += u.TotalTokens
	d.TotalCostUSD += u.CostUSD
}

// Usage returns the token totals of the day as a TokenUsage
func (d DailyStats) Usage() TokenUsage {
	return TokenUsage{
		InputTokens:         d.InputTokens,
		OutputTokens:        d.OutputTokens,
		CacheCreationTokens: d.CacheCreationTokens,
		CacheReadTokens:     d.CacheReadTokens,
		TotalTokens:         d.TotalTokens,
		CostUSD:             d.TotalCostUSD,
	}
}

// Clone deep-copies the day
func (d DailyStats) Clone() DailyStats {
	d.ModelBreakdown = CloneBreakdown(d.ModelBreakdown)
	return d
}

// HistoricalStatsData is the root of the persisted statistics file
type HistoricalStatsData struct {
	Version        int                    `json:"version"`
	LastBackfill   *time.Time             `json:"lastBackfill,omitempty"`
	DailyStats     map[string]*DailyStats `json:"dailyStats"`
	ProcessedFiles []string               `json:"processedFiles"`
	// Contributions holds what each processed transcript has merged so far
	Contributions map[string]*TranscriptContribution `json:"contributions,omitempty"`
}

// TranscriptContribution is the usage one transcript has added to the daily stats
type TranscriptContribution struct {
	TokenUsage
	ModelBreakdown map[string]*TokenUsage `json:"modelBreakdown,omitempty"`
}

// DateKey formats t as a local calendar-day key
func DateKey(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// BackfillStatus is the phase of a backfill run
type BackfillStatus string

const (
	BackfillIdle       BackfillStatus = "idle"
	BackfillScanning   BackfillStatus = "scanning"
	BackfillProcessing BackfillStatus = "processing"
	BackfillComplete   BackfillStatus = "complete"
	BackfillError      BackfillStatus = "error"
)

// BackfillProgress reports where a backfill run is
type BackfillProgress struct {
	Status      BackfillStatus `json:"status"`
	TotalFiles  int            `json:"totalFiles"`
	Scanned     int            `json:"scanned"`
	Processed   int            `json:"processed"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Running reports whether the run is still in flight
func (p BackfillProgress) Running() bool {
	return p.Status == BackfillScanning || p.Status == BackfillProcessing
}
