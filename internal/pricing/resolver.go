// Package pricing resolves per-token prices for Claude models
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/vanpelt/claude-blocker/internal/cache"
	"github.com/vanpelt/claude-blocker/internal/fileutil"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/recovery"
)

const (
	defaultFetchTimeout = 15 * time.Second
	sourceStatic        = "static"
	sourceCache         = "cache"
	sourceRemote        = "remote"
)

// CostCalculator is what the transcript parser needs from a resolver
type CostCalculator interface {
	CalculateCost(usage models.TokenUsage, model string) float64
}

// Options configures a Resolver
type Options struct {
	CacheFile string
	URL       string
	CacheTTL  time.Duration
	Timeout   time.Duration
}

// cacheFile is the on-disk shape of the pricing cache
type cacheFile struct {
	FetchedAt time.Time         `json:"fetchedAt"`
	Source    string            `json:"source"`
	Prices    map[string]Prices `json:"prices"`
}

// Resolver resolves model prices. It never fails: until a remote catalog has been merged in
// the static fallback table is used.
type Resolver struct {
	opts Options

	mu     sync.RWMutex
	prices map[string]Prices
	source string

	memo   *cache.LRU[Prices]
	client *fasthttp.Client
	now    func() time.Time

	refreshMu  sync.Mutex
	refreshing *inflight
}

// inflight is a refresh shared by concurrent callers
type inflight struct {
	done chan struct{}
	err  error
}

// NewResolver creates a resolver seeded with the static table
func NewResolver(opts Options) *Resolver {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}

	return &Resolver{
		opts:   opts,
		prices: copyPrices(fallbackPrices),
		source: sourceStatic,
		memo:   cache.NewLRU[Prices](cache.Config{MaxSize: 128}),
		client: &fasthttp.Client{
			Name:                "claude-blocker",
			ReadBufferSize:      64 * 1024,
			MaxResponseBodySize: 32 * 1024 * 1024,
		},
		now: time.Now,
	}
}

// NewStatic returns a resolver that only ever uses the static table
func NewStatic() *Resolver {
	return NewResolver(Options{})
}

// Source reports where the current table came from: static, cache or remote
func (r *Resolver) Source() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}

// Resolve returns prices for model. Lookup order is the exact model string, its normalized
// family key, family plus major version, family alone and finally the Sonnet default.
func (r *Resolver) Resolve(model string) Prices {
	memoKey := strings.ToLower(strings.TrimSpace(model))
	if p, ok := r.memo.Get(memoKey); ok {
		return p
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	p := lookup(r.prices, model)
	r.memo.Set(memoKey, p)
	return p
}

func lookup(table map[string]Prices, model string) Prices {
	for _, key := range candidateKeys(model) {
		if p, ok := table[key]; ok {
			return p
		}
		if p, ok := table[strings.ToLower(key)]; ok {
			return p
		}
	}
	if p, ok := table[DefaultKey]; ok {
		return p
	}
	return fallbackPrices[DefaultKey]
}

// CalculateCost prices usage against model
func (r *Resolver) CalculateCost(usage models.TokenUsage, model string) float64 {
	p := r.Resolve(model)
	return float64(usage.InputTokens)*p.Input +
		float64(usage.OutputTokens)*p.Output +
		float64(usage.CacheCreationTokens)*p.CacheWrite +
		float64(usage.CacheReadTokens)*p.CacheRead
}

// Start loads the disk cache when it is fresh enough, otherwise refreshes from the remote
// catalog in the background. The returned channel yields the outcome exactly once; callers are
// free to ignore it.
func (r *Resolver) Start(ctx context.Context) <-chan error {
	if r.opts.CacheFile != "" {
		fresh, err := r.loadCache()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("⚠️  Ignoring pricing cache: %v", err)
		}
		if fresh {
			done := make(chan error, 1)
			done <- nil
			close(done)
			return done
		}
	}
	return r.Refresh(ctx)
}

// Refresh fetches the remote catalog in the background and merges it over the static table.
// Concurrent callers share the in-flight fetch.
func (r *Resolver) Refresh(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	if r.opts.URL == "" {
		done <- nil
		close(done)
		return done
	}

	r.refreshMu.Lock()
	if current := r.refreshing; current != nil {
		r.refreshMu.Unlock()
		recovery.SafeGo("pricing-refresh-wait", func() {
			<-current.done
			done <- current.err
			close(done)
		})
		return done
	}
	current := &inflight{done: make(chan struct{})}
	r.refreshing = current
	r.refreshMu.Unlock()

	recovery.SafeGo("pricing-refresh", func() {
		err := r.fetch(ctx)
		if err != nil {
			logger.Warnf("⚠️  Pricing refresh failed, keeping %s prices: %v", r.Source(), err)
		}

		r.refreshMu.Lock()
		current.err = err
		r.refreshing = nil
		r.refreshMu.Unlock()
		close(current.done)

		done <- err
		close(done)
	})
	return done
}

func (r *Resolver) fetch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.opts.URL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	timeout := r.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if err := r.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("failed to fetch pricing catalog: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("pricing catalog returned status %d", resp.StatusCode())
	}

	remote, err := parseCatalog(resp.Body())
	if err != nil {
		return err
	}
	if len(remote) == 0 {
		return fmt.Errorf("pricing catalog contained no Claude models")
	}

	r.apply(remote, sourceRemote)
	logger.Infof("💰 Loaded %d Claude model prices from remote catalog", len(remote))

	if r.opts.CacheFile != "" {
		snapshot := cacheFile{FetchedAt: r.now(), Source: r.opts.URL, Prices: remote}
		recovery.SafeGo("pricing-cache-write", func() {
			if err := fileutil.WriteJSON(r.opts.CacheFile, snapshot); err != nil {
				logger.Warnf("⚠️  Failed to write pricing cache: %v", err)
			}
		})
	}
	return nil
}

// loadCache applies the disk cache and reports whether it was fresh
func (r *Resolver) loadCache() (bool, error) {
	var cf cacheFile
	if err := fileutil.ReadJSON(r.opts.CacheFile, &cf); err != nil {
		return false, err
	}
	if len(cf.Prices) == 0 {
		return false, nil
	}

	// Stale caches are still better than the static table while the refresh runs
	r.apply(cf.Prices, sourceCache)

	age := r.now().Sub(cf.FetchedAt)
	fresh := age >= 0 && age < r.opts.CacheTTL
	if fresh {
		logger.Debugf("💰 Using pricing cache from %s (%d models)", cf.FetchedAt.Format(time.RFC3339), len(cf.Prices))
	}
	return fresh, nil
}

// apply merges entries over the static table and drops the memo
func (r *Resolver) apply(entries map[string]Prices, source string) {
	merged := copyPrices(fallbackPrices)
	for k, p := range entries {
		merged[k] = p
	}

	r.mu.Lock()
	r.prices = merged
	r.source = source
	r.memo.Purge()
	r.mu.Unlock()
}

type catalogEntry struct {
	InputCostPerToken           *float64 `json:"input_cost_per_token"`
	OutputCostPerToken          *float64 `json:"output_cost_per_token"`
	CacheCreationInputTokenCost *float64 `json:"cache_creation_input_token_cost"`
	CacheReadInputTokenCost     *float64 `json:"cache_read_input_token_cost"`
}

// parseCatalog extracts Claude entries from a LiteLLM style price catalog. Both the raw model
// id and its normalized family key are recorded; the first entry wins for a family key.
func parseCatalog(body []byte) (map[string]Prices, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode pricing catalog: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "claude") {
			continue
		}
		// provider-prefixed duplicates (bedrock/, vertex_ai/) carry different prices
		if strings.Contains(lower, "/") && !strings.HasPrefix(lower, "anthropic/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]Prices, len(names)*2)
	for _, name := range names {
		var entry catalogEntry
		if err := json.Unmarshal(raw[name], &entry); err != nil {
			continue
		}
		if entry.InputCostPerToken == nil || entry.OutputCostPerToken == nil {
			continue
		}

		p := Prices{
			Input:      *entry.InputCostPerToken,
			Output:     *entry.OutputCostPerToken,
			CacheWrite: *entry.InputCostPerToken * 1.25,
			CacheRead:  *entry.InputCostPerToken * 0.1,
		}
		if entry.CacheCreationInputTokenCost != nil {
			p.CacheWrite = *entry.CacheCreationInputTokenCost
		}
		if entry.CacheReadInputTokenCost != nil {
			p.CacheRead = *entry.CacheReadInputTokenCost
		}

		model := strings.TrimPrefix(name, "anthropic/")
		out[model] = p
		if family := NormalizeModel(model); family != "" {
			if _, exists := out[family]; !exists {
				out[family] = p
			}
		}
	}
	return out, nil
}

func copyPrices(in map[string]Prices) map[string]Prices {
	out := make(map[string]Prices, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
