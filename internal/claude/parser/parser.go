// Package parser reads Claude transcripts into usage totals and time-in-state durations
package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vanpelt/claude-blocker/internal/pricing"
)

// MaxLineSize bounds a single transcript line. Longer lines are skipped.
const MaxLineSize = 16 * 1024 * 1024

// Parser turns transcripts into Summaries. It is stateless and safe for concurrent use.
type Parser struct {
	calc         pricing.CostCalculator
	askUserTools []string
}

// New creates a parser pricing usage through calc. A nil calc uses the static price table.
func New(calc pricing.CostCalculator, askUserTools []string) *Parser {
	if calc == nil {
		calc = pricing.NewStatic()
	}
	return &Parser{
		calc:         calc,
		askUserTools: append([]string(nil), askUserTools...),
	}
}

// ParseFile parses the transcript at path
func (p *Parser) ParseFile(path string) (*Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	summary, err := p.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript %s: %w", path, err)
	}
	summary.Path = path
	return summary, nil
}

// Parse reads a transcript stream to EOF. Malformed lines are counted and skipped; only a
// read error from r aborts the scan.
func (p *Parser) Parse(r io.Reader) (*Summary, error) {
	usage := NewUsageAggregator()
	timeline := NewTimeline(p.askUserTools)
	summary := &Summary{}

	reader := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			p.processLine(line, lineNo, summary, usage, timeline)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, readErr
		}
	}

	summary.Usage, summary.ModelBreakdown = usage.Totals(p.calc)
	summary.Model = usage.PrimaryModel()
	summary.Requests = usage.Requests()

	working, waiting, idle := timeline.Durations()
	summary.WorkingMs = working.Milliseconds()
	summary.WaitingMs = waiting.Milliseconds()
	summary.IdleMs = idle.Milliseconds()
	return summary, nil
}

func (p *Parser) processLine(line []byte, lineNo int, summary *Summary, usage *UsageAggregator, timeline *Timeline) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	summary.Lines++
	if len(line) > MaxLineSize {
		summary.SkippedLines++
		return
	}

	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		summary.SkippedLines++
		return
	}

	if ts := parseTimestamp(rec.Timestamp); !ts.IsZero() {
		if summary.FirstTimestamp.IsZero() || ts.Before(summary.FirstTimestamp) {
			summary.FirstTimestamp = ts
		}
		if ts.After(summary.LastTimestamp) {
			summary.LastTimestamp = ts
		}
	}

	usage.ProcessRecord(&rec, lineNo)
	timeline.ProcessRecord(&rec)
}
