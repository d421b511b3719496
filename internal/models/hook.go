package models

import (
	"encoding/json"
)

// HookEventName is the lifecycle event emitted by Claude Code hooks
type HookEventName string

const (
	HookSessionStart     HookEventName = "SessionStart"
	HookSessionEnd       HookEventName = "SessionEnd"
	HookUserPromptSubmit HookEventName = "UserPromptSubmit"
	HookPreToolUse       HookEventName = "PreToolUse"
	HookPostToolUse      HookEventName = "PostToolUse"
	HookStop             HookEventName = "Stop"
	HookSubagentStart    HookEventName = "SubagentStart"
	HookSubagentStop     HookEventName = "SubagentStop"
)

// AllHookEvents lists every event the tracker understands, in registration order
var AllHookEvents = []HookEventName{
	HookSessionStart,
	HookSessionEnd,
	HookUserPromptSubmit,
	HookPreToolUse,
	HookPostToolUse,
	HookStop,
	HookSubagentStart,
	HookSubagentStop,
}

// Known reports whether the event name is one the tracker handles
func (n HookEventName) Known() bool {
	for _, known := range AllHookEvents {
		if n == known {
			return true
		}
	}
	return false
}

// HookEvent is the payload Claude Code sends to a hook command, forwarded to the tracker
type HookEvent struct {
	SessionID           string          `json:"session_id"`
	HookEventName       HookEventName   `json:"hook_event_name"`
	ToolName            string          `json:"tool_name,omitempty"`
	ToolInput           json.RawMessage `json:"tool_input,omitempty"`
	Cwd                 string          `json:"cwd,omitempty"`
	TranscriptPath      string          `json:"transcript_path,omitempty"`
	AgentID             string          `json:"agent_id,omitempty"`
	AgentType           string          `json:"agent_type,omitempty"`
	AgentTranscriptPath string          `json:"agent_transcript_path,omitempty"`
	InputTokens         *int64          `json:"input_tokens,omitempty"`
	OutputTokens        *int64          `json:"output_tokens,omitempty"`
	TotalTokens         *int64          `json:"total_tokens,omitempty"`
	CostUSD             *float64        `json:"cost_usd,omitempty"`
}

// Usage returns the token fields carried by the event, if any. Negative values count as
// zero. When total_tokens is absent it is derived from input and output.
func (e *HookEvent) Usage() (TokenUsage, bool) {
	var u TokenUsage
	present := false
	if e.InputTokens != nil {
		u.InputTokens = max(*e.InputTokens, 0)
		present = true
	}
	if e.OutputTokens != nil {
		u.OutputTokens = max(*e.OutputTokens, 0)
		present = true
	}
	if e.TotalTokens != nil {
		u.TotalTokens = max(*e.TotalTokens, 0)
		present = true
	} else {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	if e.CostUSD != nil {
		u.CostUSD = max(*e.CostUSD, 0)
		present = true
	}
	return u, present
}
