package parser

import (
	"encoding/json"
	"time"

	"github.com/vanpelt/claude-blocker/internal/models"
)

// Record is one line of a Claude transcript. Only the fields the tracker needs are decoded.
type Record struct {
	Type        string   `json:"type"`
	UUID        string   `json:"uuid"`
	SessionID   string   `json:"sessionId"`
	RequestID   string   `json:"requestId"`
	Timestamp   string   `json:"timestamp"`
	IsMeta      bool     `json:"isMeta"`
	IsSidechain bool     `json:"isSidechain"`
	Cwd         string   `json:"cwd"`
	Message     *Message `json:"message,omitempty"`
}

// Message is the API message carried by user and assistant records
type Message struct {
	ID         string          `json:"id"`
	Role       string          `json:"role"`
	Model      string          `json:"model"`
	StopReason *string         `json:"stop_reason"`
	Content    json.RawMessage `json:"content"`
	Usage      *Usage          `json:"usage,omitempty"`
}

// Usage is the token usage block of an assistant message
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// ContentBlock is a single block of an array-valued message content
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Summary is everything the tracker derives from one transcript
type Summary struct {
	Path string `json:"path,omitempty"`

	// Usage holds the token totals across distinct requests, with CostUSD filled in
	Usage          models.TokenUsage             `json:"usage"`
	Model          string                        `json:"model,omitempty"`
	ModelBreakdown map[string]*models.TokenUsage `json:"modelBreakdown,omitempty"`

	FirstTimestamp time.Time `json:"firstTimestamp"`
	LastTimestamp  time.Time `json:"lastTimestamp"`

	WorkingMs int64 `json:"workingMs"`
	WaitingMs int64 `json:"waitingMs"`
	IdleMs    int64 `json:"idleMs"`

	Requests     int `json:"requests"`
	Lines        int `json:"lines"`
	SkippedLines int `json:"skippedLines"`
}

// HasUsage reports whether the transcript contained at least one usage record
func (s *Summary) HasUsage() bool {
	return s.Requests > 0
}

// HasTimestamps reports whether any record carried a parseable timestamp
func (s *Summary) HasTimestamps() bool {
	return !s.LastTimestamp.IsZero()
}

const (
	recordUser      = "user"
	recordAssistant = "assistant"

	blockText       = "text"
	blockToolUse    = "tool_use"
	blockToolResult = "tool_result"

	stopReasonToolUse = "tool_use"

	// syntheticModel marks locally generated assistant messages that were never billed
	syntheticModel = "<synthetic>"
)
