package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/pricing"
)

// requestUsage is the usage seen for one API request across its streamed records
type requestUsage struct {
	model string
	usage models.TokenUsage
}

// UsageAggregator folds usage records into per-request maxima. Streaming writes one record
// per content block, each carrying the cumulative counts so far, so the largest value seen
// for a request is its true usage and summing would double count.
type UsageAggregator struct {
	requests map[string]*requestUsage
	order    []string
	primary  string
}

// NewUsageAggregator creates an empty aggregator
func NewUsageAggregator() *UsageAggregator {
	return &UsageAggregator{requests: make(map[string]*requestUsage)}
}

// requestKey prefers requestId, then message.id, then a per-line key
func requestKey(rec *Record, line int) string {
	if id := strings.TrimSpace(rec.RequestID); id != "" {
		return "req:" + id
	}
	if rec.Message != nil {
		if id := strings.TrimSpace(rec.Message.ID); id != "" {
			return "msg:" + id
		}
	}
	return fmt.Sprintf("line:%d", line)
}

// ProcessRecord folds rec into the aggregate. line is the 1-based line number.
func (a *UsageAggregator) ProcessRecord(rec *Record, line int) {
	if rec.Message == nil || rec.Message.Usage == nil {
		return
	}
	model := strings.TrimSpace(rec.Message.Model)
	if model == syntheticModel {
		return
	}

	key := requestKey(rec, line)
	req, exists := a.requests[key]
	if !exists {
		req = &requestUsage{}
		a.requests[key] = req
		a.order = append(a.order, key)
	}
	if req.model == "" && model != "" {
		req.model = model
	}
	if a.primary == "" && model != "" {
		a.primary = model
	}

	u := rec.Message.Usage
	req.usage.InputTokens = max(req.usage.InputTokens, u.InputTokens)
	req.usage.OutputTokens = max(req.usage.OutputTokens, u.OutputTokens)
	req.usage.CacheCreationTokens = max(req.usage.CacheCreationTokens, u.CacheCreationInputTokens)
	req.usage.CacheReadTokens = max(req.usage.CacheReadTokens, u.CacheReadInputTokens)
}

// Requests returns the number of distinct requests seen
func (a *UsageAggregator) Requests() int {
	return len(a.order)
}

// PrimaryModel is the first model seen
func (a *UsageAggregator) PrimaryModel() string {
	return a.primary
}

// Totals sums the per-request maxima and prices them. Requests without a model are priced
// against the primary model.
func (a *UsageAggregator) Totals(calc pricing.CostCalculator) (models.TokenUsage, map[string]*models.TokenUsage) {
	var total, unattributed models.TokenUsage
	var breakdown map[string]*models.TokenUsage
	var modelOrder []string

	for _, key := range a.order {
		req := a.requests[key]
		u := req.usage
		u.TotalTokens = u.SumTokens()
		total.Add(u)

		if req.model == "" {
			unattributed.Add(u)
			continue
		}
		if breakdown == nil {
			breakdown = make(map[string]*models.TokenUsage)
		}
		entry, ok := breakdown[req.model]
		if !ok {
			entry = &models.TokenUsage{}
			breakdown[req.model] = entry
			modelOrder = append(modelOrder, req.model)
		}
		entry.Add(u)
	}

	if calc == nil {
		return total, breakdown
	}

	cost := 0.0
	if len(breakdown) == 0 {
		cost = calc.CalculateCost(total, a.primary)
	} else {
		// fixed order keeps the float sum deterministic
		for _, model := range modelOrder {
			usage := breakdown[model]
			usage.CostUSD = calc.CalculateCost(*usage, model)
			cost += usage.CostUSD
		}
		cost += calc.CalculateCost(unattributed, a.primary)
	}
	total.CostUSD = cost
	return total, breakdown
}

// Timeline replays a transcript to reconstruct time spent working, waiting for the user and
// idle. Durations only accrue on transitions; the time after the last record is not counted.
type Timeline struct {
	askUser map[string]bool

	started        bool
	state          models.SessionStatus
	lastTransition time.Time

	working time.Duration
	waiting time.Duration
	idle    time.Duration
}

// NewTimeline creates a timeline treating askUserTools as blocking on human input
func NewTimeline(askUserTools []string) *Timeline {
	askUser := make(map[string]bool, len(askUserTools))
	for _, name := range askUserTools {
		askUser[name] = true
	}
	return &Timeline{askUser: askUser, state: models.StatusIdle}
}

// ProcessRecord applies rec's transition, if any
func (t *Timeline) ProcessRecord(rec *Record) {
	ts := parseTimestamp(rec.Timestamp)
	if ts.IsZero() {
		return
	}

	if !t.started {
		t.started = true
		t.state = models.StatusWorking
		t.lastTransition = ts
	}

	switch rec.Type {
	case recordUser:
		if t.state != models.StatusWorking && IsHumanPrompt(rec) {
			t.accrue(t.state, ts)
			t.transition(models.StatusWorking, ts)
		}

	case recordAssistant:
		if t.invokesAskUser(rec) {
			if t.state != models.StatusWaitingForInput {
				t.accrueIfWorking(ts)
				t.transition(models.StatusWaitingForInput, ts)
			}
			return
		}

		reason, ok := stopReason(rec)
		if !ok || reason == stopReasonToolUse {
			return
		}
		if t.state != models.StatusIdle {
			t.accrueIfWorking(ts)
			t.transition(models.StatusIdle, ts)
		}
	}
}

func (t *Timeline) invokesAskUser(rec *Record) bool {
	for _, name := range ToolUses(rec) {
		if t.askUser[name] {
			return true
		}
	}
	return false
}

func (t *Timeline) accrueIfWorking(ts time.Time) {
	if t.state == models.StatusWorking {
		t.accrue(models.StatusWorking, ts)
	}
}

func (t *Timeline) accrue(state models.SessionStatus, ts time.Time) {
	elapsed := ts.Sub(t.lastTransition)
	if elapsed <= 0 {
		return
	}
	switch state {
	case models.StatusWorking:
		t.working += elapsed
	case models.StatusWaitingForInput:
		t.waiting += elapsed
	case models.StatusIdle:
		t.idle += elapsed
	}
}

func (t *Timeline) transition(state models.SessionStatus, ts time.Time) {
	t.state = state
	if ts.After(t.lastTransition) {
		t.lastTransition = ts
	}
}

// State returns the state after the last processed record
func (t *Timeline) State() models.SessionStatus {
	return t.state
}

// Durations returns the accrued working, waiting and idle time
func (t *Timeline) Durations() (working, waiting, idle time.Duration) {
	return t.working, t.waiting, t.idle
}
