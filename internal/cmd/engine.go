package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanpelt/claude-blocker/internal/claude/parser"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/pricing"
	"github.com/vanpelt/claude-blocker/internal/services"
)

// engine bundles the tracker's services, wired from the runtime configuration
type engine struct {
	pricing  *pricing.Resolver
	parser   *parser.Parser
	history  *services.HistoryStore
	stats    *services.StatsStore
	store    *services.SessionStore
	backfill *services.BackfillEngine
	watcher  *services.TranscriptWatcherService
}

// newEngine loads persisted state and starts the pricing refresh. withWatcher attaches the
// transcript watcher, which only makes sense for the long running server.
func newEngine(ctx context.Context, withWatcher bool) (*engine, error) {
	rc := config.Runtime
	if err := rc.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	resolver := pricing.NewResolver(pricing.Options{
		CacheFile: rc.PricingCacheFile(),
		URL:       rc.PricingURL,
		CacheTTL:  rc.PricingCacheTTL,
	})
	// failures are logged by the resolver, which keeps its fallback table
	_ = resolver.Start(ctx)

	p := parser.New(resolver, rc.AskUserTools)

	// both stores log load problems themselves and start empty
	history := services.NewHistoryStore(rc.HistoryFile(), rc.HistoryRetention, rc.PersistDelay)
	if err := history.Load(); err != nil {
		logger.Debugf("📜 %v", err)
	}

	stats := services.NewStatsStore(rc.StatsFile(), rc.PersistDelay)
	if _, err := stats.Load(); err != nil {
		logger.Debugf("📊 %v", err)
	}

	broadcaster := services.NewBroadcaster()
	store := services.NewSessionStore(services.DefaultSessionStoreOptions(), p, history, stats, broadcaster)
	backfill := services.NewBackfillEngine(services.DefaultBackfillOptions(), p, stats, store, broadcaster)

	e := &engine{
		pricing:  resolver,
		parser:   p,
		history:  history,
		stats:    stats,
		store:    store,
		backfill: backfill,
	}

	if withWatcher {
		watcher, err := services.NewTranscriptWatcher(store.TouchTranscript)
		if err != nil {
			logger.Warnf("⚠️  Transcript watching disabled: %v", err)
		} else {
			store.SetWatcher(watcher)
			watcher.Start()
			e.watcher = watcher
		}
	}

	return e, nil
}

// Close stops background work and flushes history and stats
func (e *engine) Close() error {
	var errs []error
	if e.watcher != nil {
		errs = append(errs, e.watcher.Stop())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}
