package models

// TokenUsage holds token counts by kind plus the derived cost in USD
type TokenUsage struct {
	InputTokens         int64   `json:"inputTokens"`
	OutputTokens        int64   `json:"outputTokens"`
	CacheCreationTokens int64   `json:"cacheCreationTokens"`
	CacheReadTokens     int64   `json:"cacheReadTokens"`
	TotalTokens         int64   `json:"totalTokens"`
	CostUSD             float64 `json:"costUsd"`
}

// Add accumulates other into u
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// Sub returns u minus other, clamping every field at zero
func (u TokenUsage) Sub(other TokenUsage) TokenUsage {
	clamp := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	cost := u.CostUSD - other.CostUSD
	if cost < 0 {
		cost = 0
	}
	return TokenUsage{
		InputTokens:         clamp(u.InputTokens - other.InputTokens),
		OutputTokens:        clamp(u.OutputTokens - other.OutputTokens),
		CacheCreationTokens: clamp(u.CacheCreationTokens - other.CacheCreationTokens),
		CacheReadTokens:     clamp(u.CacheReadTokens - other.CacheReadTokens),
		TotalTokens:         clamp(u.TotalTokens - other.TotalTokens),
		CostUSD:             cost,
	}
}

// IsZero reports whether no tokens and no cost were recorded
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.CacheCreationTokens == 0 &&
		u.CacheReadTokens == 0 && u.TotalTokens == 0 && u.CostUSD == 0
}

// SumTokens returns the sum of the four token kinds
func (u TokenUsage) SumTokens() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// CloneBreakdown deep-copies a per-model usage map
func CloneBreakdown(in map[string]*TokenUsage) map[string]*TokenUsage {
	if in == nil {
		return nil
	}
	out := make(map[string]*TokenUsage, len(in))
	for model, usage := range in {
		if usage == nil {
			continue
		}
		u := *usage
		out[model] = &u
	}
	return out
}

// MergeBreakdown adds every entry of src into dst, allocating dst if needed
func MergeBreakdown(dst map[string]*TokenUsage, src map[string]*TokenUsage) map[string]*TokenUsage {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]*TokenUsage, len(src))
	}
	for model, usage := range src {
		if usage == nil {
			continue
		}
		existing, ok := dst[model]
		if !ok {
			existing = &TokenUsage{}
			dst[model] = existing
		}
		existing.Add(*usage)
	}
	return dst
}
