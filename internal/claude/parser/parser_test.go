package parser

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/pricing"
	"pgregory.net/rapid"
)

var askUser = []string{"AskUserQuestion", "ExitPlanMode"}

func newTestParser() *Parser {
	return New(pricing.NewStatic(), askUser)
}

func TestParseFile_Session(t *testing.T) {
	summary, err := newTestParser().ParseFile("testdata/session.jsonl")
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if summary.Lines != 11 {
		t.Errorf("Expected 11 lines, got %d", summary.Lines)
	}
	if summary.SkippedLines != 1 {
		t.Errorf("Expected 1 skipped line, got %d", summary.SkippedLines)
	}
	if summary.Requests != 3 {
		t.Errorf("Expected 3 requests, got %d", summary.Requests)
	}

	want := models.TokenUsage{
		InputTokens:         400,
		OutputTokens:        65,
		CacheCreationTokens: 300,
		CacheReadTokens:     1000,
		TotalTokens:         1765,
	}
	got := summary.Usage
	got.CostUSD = 0
	if got != want {
		t.Errorf("Expected usage %+v, got %+v", want, got)
	}
	if math.Abs(summary.Usage.CostUSD-0.0045) > 1e-9 {
		t.Errorf("Expected cost 0.0045, got %f", summary.Usage.CostUSD)
	}

	if summary.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Expected primary model sonnet, got %q", summary.Model)
	}
	if len(summary.ModelBreakdown) != 2 {
		t.Fatalf("Expected 2 models in breakdown, got %d", len(summary.ModelBreakdown))
	}
	if _, ok := summary.ModelBreakdown["<synthetic>"]; ok {
		t.Error("Synthetic messages must not appear in the breakdown")
	}
	opus := summary.ModelBreakdown["claude-opus-4-5-20251101"]
	if opus == nil || opus.CacheCreationTokens != 300 || opus.TotalTokens != 355 {
		t.Errorf("Unexpected opus breakdown: %+v", opus)
	}

	if summary.WorkingMs != 21_000 {
		t.Errorf("Expected 21s working, got %dms", summary.WorkingMs)
	}
	if summary.WaitingMs != 70_000 {
		t.Errorf("Expected 70s waiting, got %dms", summary.WaitingMs)
	}
	if summary.IdleMs != 60_000 {
		t.Errorf("Expected 60s idle, got %dms", summary.IdleMs)
	}

	first := time.Date(2025, 11, 21, 10, 0, 0, 0, time.UTC)
	last := time.Date(2025, 11, 21, 10, 2, 31, 0, time.UTC)
	if !summary.FirstTimestamp.Equal(first) || !summary.LastTimestamp.Equal(last) {
		t.Errorf("Unexpected time range %v - %v", summary.FirstTimestamp, summary.LastTimestamp)
	}
	if !summary.HasUsage() || !summary.HasTimestamps() {
		t.Error("Expected usage and timestamps")
	}
	if summary.Path != "testdata/session.jsonl" {
		t.Errorf("Expected path to be recorded, got %q", summary.Path)
	}
}

func TestParse_StreamedRecordsTakeMax(t *testing.T) {
	transcript := `{"type":"assistant","requestId":"req-1","timestamp":"2025-11-21T10:00:00Z","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":100,"output_tokens":1}}}
{"type":"assistant","requestId":"req-1","timestamp":"2025-11-21T10:00:01Z","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":150,"output_tokens":1}}}
`
	summary, err := newTestParser().Parse(strings.NewReader(transcript))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if summary.Usage.InputTokens != 150 {
		t.Errorf("Expected input tokens 150, got %d", summary.Usage.InputTokens)
	}
	if summary.Requests != 1 {
		t.Errorf("Expected 1 request, got %d", summary.Requests)
	}
}

func TestParse_RequestKeyFallbacks(t *testing.T) {
	// no requestId: message.id groups, and records with neither are distinct
	transcript := `{"type":"assistant","message":{"id":"m1","usage":{"input_tokens":10}}}
{"type":"assistant","message":{"id":"m1","usage":{"input_tokens":30}}}
{"type":"assistant","message":{"usage":{"input_tokens":5}}}
{"type":"assistant","message":{"usage":{"input_tokens":5}}}
`
	summary, err := newTestParser().Parse(strings.NewReader(transcript))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if summary.Usage.InputTokens != 40 {
		t.Errorf("Expected 40 input tokens, got %d", summary.Usage.InputTokens)
	}
	if summary.Requests != 3 {
		t.Errorf("Expected 3 requests, got %d", summary.Requests)
	}
	if summary.ModelBreakdown != nil {
		t.Errorf("Expected no breakdown without models, got %v", summary.ModelBreakdown)
	}
	// priced as a single calculation against the default tier
	if summary.Usage.CostUSD <= 0 {
		t.Error("Expected a cost even without a model")
	}
}

func TestParse_EmptyAndGarbage(t *testing.T) {
	summary, err := newTestParser().Parse(strings.NewReader("\n\nnot json\n{]\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if summary.Lines != 2 || summary.SkippedLines != 2 {
		t.Errorf("Expected 2 lines both skipped, got %d/%d", summary.Lines, summary.SkippedLines)
	}
	if summary.HasUsage() || summary.HasTimestamps() {
		t.Error("Expected no usage and no timestamps")
	}
}

func TestParse_NoTrailingNewline(t *testing.T) {
	transcript := `{"type":"assistant","requestId":"r","message":{"usage":{"output_tokens":7}}}`
	summary, err := newTestParser().Parse(strings.NewReader(transcript))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if summary.Usage.OutputTokens != 7 {
		t.Errorf("Expected last line to be parsed, got %d output tokens", summary.Usage.OutputTokens)
	}
}

func TestParseFile_Missing(t *testing.T) {
	_, err := newTestParser().ParseFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	if !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestParseFile_Idempotent(t *testing.T) {
	p := newTestParser()
	first, err := p.ParseFile("testdata/session.jsonl")
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	second, err := p.ParseFile("testdata/session.jsonl")
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if first.Usage != second.Usage || first.WorkingMs != second.WorkingMs {
		t.Errorf("Expected identical summaries, got %+v and %+v", first.Usage, second.Usage)
	}
}

// Any interleaving of streamed records for a fixed set of requests aggregates to the same
// totals, and parsing twice is deterministic.
func TestParse_DedupeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nRequests := rapid.IntRange(1, 5).Draw(t, "requests")
		var lines []string
		wantInput := int64(0)
		for i := 0; i < nRequests; i++ {
			final := rapid.Int64Range(0, 10_000).Draw(t, "final")
			wantInput += final
			streamed := rapid.IntRange(1, 4).Draw(t, "streamed")
			for j := 0; j < streamed; j++ {
				partial := rapid.Int64Range(0, final).Draw(t, "partial")
				lines = append(lines, usageLine(i, partial))
			}
			lines = append(lines, usageLine(i, final))
		}
		perm := rapid.Permutation(lines).Draw(t, "order")
		transcript := strings.Join(perm, "\n")

		p := newTestParser()
		a, err := p.Parse(strings.NewReader(transcript))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		b, err := p.Parse(strings.NewReader(transcript))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if a.Usage.InputTokens != wantInput {
			t.Fatalf("Expected %d input tokens, got %d", wantInput, a.Usage.InputTokens)
		}
		if a.Usage != b.Usage {
			t.Fatalf("Expected deterministic totals, got %+v and %+v", a.Usage, b.Usage)
		}
	})
}

func usageLine(request int, input int64) string {
	return `{"type":"assistant","requestId":"req-` + string(rune('a'+request)) +
		`","message":{"model":"claude-haiku-4-5","usage":{"input_tokens":` + strconv.FormatInt(input, 10) + `}}}`
}
