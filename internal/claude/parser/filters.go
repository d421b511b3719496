package parser

import (
	"encoding/json"
	"strings"
	"time"
)

// parseTimestamp parses an ISO 8601 timestamp string, returning the zero time on failure
func parseTimestamp(timestamp string) time.Time {
	if timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// contentBlocks decodes array-valued content. String content yields (nil, text, true).
func contentBlocks(raw json.RawMessage) (blocks []ContentBlock, text string, isString bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, "", false
	}

	if trimmed[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, "", false
		}
		return nil, text, true
	}

	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, "", false
	}
	return blocks, "", false
}

// IsHumanPrompt reports whether a user record carries text typed by a person rather than a
// tool result or an injected meta message
func IsHumanPrompt(rec *Record) bool {
	if rec.Type != recordUser || rec.IsMeta || rec.Message == nil {
		return false
	}

	blocks, text, isString := contentBlocks(rec.Message.Content)
	if isString {
		return strings.TrimSpace(text) != ""
	}

	hasText := false
	for _, block := range blocks {
		switch block.Type {
		case blockToolResult:
			return false
		case blockText:
			if strings.TrimSpace(block.Text) != "" {
				hasText = true
			}
		}
	}
	return hasText
}

// ToolUses returns the tool names invoked by an assistant record, in order
func ToolUses(rec *Record) []string {
	if rec.Type != recordAssistant || rec.Message == nil {
		return nil
	}

	blocks, _, _ := contentBlocks(rec.Message.Content)
	var names []string
	for _, block := range blocks {
		if block.Type == blockToolUse && block.Name != "" {
			names = append(names, block.Name)
		}
	}
	return names
}

// stopReason returns the assistant stop reason and whether one was set
func stopReason(rec *Record) (string, bool) {
	if rec.Message == nil || rec.Message.StopReason == nil || *rec.Message.StopReason == "" {
		return "", false
	}
	return *rec.Message.StopReason, true
}
