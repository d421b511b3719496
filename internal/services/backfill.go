package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/vanpelt/claude-blocker/internal/claude/paths"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/recovery"
)

// ErrBackfillRunning is returned when a backfill is requested while one is in flight
var ErrBackfillRunning = errors.New("backfill already running")

// LiveTranscripts reports transcripts still being written by a live session
type LiveTranscripts interface {
	IsTranscriptLive(path string) bool
}

// BackfillOptions tunes the backfill engine
type BackfillOptions struct {
	ProjectsDir string
	BatchSize   int
	BatchDelay  time.Duration
}

// DefaultBackfillOptions derives options from the runtime configuration
func DefaultBackfillOptions() BackfillOptions {
	rc := config.Runtime
	return BackfillOptions{
		ProjectsDir: rc.ProjectsDir,
		BatchSize:   rc.BackfillBatchSize,
		BatchDelay:  rc.BackfillBatchDelay,
	}
}

// BackfillEngine rebuilds daily stats from transcripts the live tracker never saw. A path
// merged once is never merged again, so repeated runs are idempotent.
type BackfillEngine struct {
	opts        BackfillOptions
	parser      TranscriptParser
	stats       *StatsStore
	live        LiveTranscripts
	broadcaster *Broadcaster
	now         func() time.Time

	mu       sync.Mutex
	running  bool
	progress models.BackfillProgress
}

// NewBackfillEngine creates an engine. live and broadcaster may be nil.
func NewBackfillEngine(opts BackfillOptions, p TranscriptParser, stats *StatsStore, live LiveTranscripts, broadcaster *Broadcaster) *BackfillEngine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultBackfillBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	return &BackfillEngine{
		opts:        opts,
		parser:      p,
		stats:       stats,
		live:        live,
		broadcaster: broadcaster,
		now:         time.Now,
		progress:    models.BackfillProgress{Status: models.BackfillIdle},
	}
}

// Progress returns the state of the current or most recent run
func (b *BackfillEngine) Progress() models.BackfillProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// Running reports whether a run is in flight
func (b *BackfillEngine) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Trigger starts a run in the background. If one is already running it returns
// ErrBackfillRunning with that run's progress.
func (b *BackfillEngine) Trigger(ctx context.Context) (models.BackfillProgress, error) {
	if !b.begin() {
		return b.Progress(), ErrBackfillRunning
	}
	progress := b.Progress()

	recovery.SafeGo("backfill", func() {
		if _, err := b.run(ctx, nil); err != nil {
			logger.Warnf("⚠️  Backfill failed: %v", err)
		}
	})
	return progress, nil
}

// Run performs a run synchronously, calling onProgress after every file
func (b *BackfillEngine) Run(ctx context.Context, onProgress func(models.BackfillProgress)) (models.BackfillProgress, error) {
	if !b.begin() {
		return b.Progress(), ErrBackfillRunning
	}
	return b.run(ctx, onProgress)
}

// RunIfDue runs once per calendar day. It reports whether a run happened.
func (b *BackfillEngine) RunIfDue(ctx context.Context) (bool, error) {
	if last := b.stats.LastBackfill(); last != nil && models.DateKey(*last) == models.DateKey(b.now()) {
		return false, nil
	}
	_, err := b.Run(ctx, nil)
	if errors.Is(err, ErrBackfillRunning) {
		return false, nil
	}
	return true, err
}

// StartDaily checks every hour whether the daily run is due, starting immediately
func (b *BackfillEngine) StartDaily(ctx context.Context) {
	recovery.SafeGo("backfill-daily", func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			if ran, err := b.RunIfDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warnf("⚠️  Daily backfill failed: %v", err)
			} else if ran {
				logger.Debugf("📊 Daily backfill finished")
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	})
}

func (b *BackfillEngine) begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return false
	}
	b.running = true
	started := b.now()
	b.progress = models.BackfillProgress{Status: models.BackfillScanning, StartedAt: &started}
	return true
}

func (b *BackfillEngine) run(ctx context.Context, onProgress func(models.BackfillProgress)) (models.BackfillProgress, error) {
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	report := func(update func(p *models.BackfillProgress)) {
		b.mu.Lock()
		update(&b.progress)
		p := b.progress
		b.mu.Unlock()

		if onProgress != nil {
			onProgress(p)
		}
		if b.broadcaster != nil {
			b.broadcaster.Publish(NewEvent(BackfillProgressEvent, p))
		}
	}
	fail := func(err error) (models.BackfillProgress, error) {
		report(func(p *models.BackfillProgress) {
			done := b.now()
			p.Status = models.BackfillError
			p.CompletedAt = &done
			p.Error = err.Error()
		})
		// whatever was merged before the failure is kept
		if flushErr := b.stats.Flush(); flushErr != nil {
			logger.Errorf("❌ Failed to persist historical stats after backfill error: %v", flushErr)
		}
		return b.Progress(), err
	}

	logger.Infof("📊 Backfill scanning %s", b.opts.ProjectsDir)
	transcripts, err := paths.ListTranscripts(b.opts.ProjectsDir)
	if err != nil {
		return fail(fmt.Errorf("failed to list transcripts: %w", err))
	}

	pending := lo.Filter(transcripts, func(t paths.Transcript, _ int) bool {
		if b.stats.IsProcessed(t.Path) {
			return false
		}
		return b.live == nil || !b.live.IsTranscriptLive(t.Path)
	})
	report(func(p *models.BackfillProgress) {
		p.Status = models.BackfillProcessing
		p.TotalFiles = len(transcripts)
		p.Scanned = len(transcripts)
		p.Skipped = len(transcripts) - len(pending)
	})

	for i, batch := range lo.Chunk(pending, b.opts.BatchSize) {
		if i > 0 && b.opts.BatchDelay > 0 {
			select {
			case <-time.After(b.opts.BatchDelay):
			case <-ctx.Done():
				return fail(ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		for _, t := range batch {
			if err := b.processFile(t); err != nil {
				logger.Debugf("⚠️  Backfill skipped %s: %v", t.Path, err)
				report(func(p *models.BackfillProgress) { p.Failed++ })
				continue
			}
			report(func(p *models.BackfillProgress) { p.Processed++ })
		}
	}

	completed := b.now()
	b.stats.SetLastBackfill(completed)
	if err := b.stats.Flush(); err != nil {
		return fail(fmt.Errorf("failed to persist historical stats: %w", err))
	}

	report(func(p *models.BackfillProgress) {
		p.Status = models.BackfillComplete
		p.CompletedAt = &completed
	})
	final := b.Progress()
	logger.Infof("✅ Backfill complete: %d processed, %d skipped, %d failed", final.Processed, final.Skipped, final.Failed)
	return final, nil
}

// processFile merges one transcript into the day it belongs to
func (b *BackfillEngine) processFile(t paths.Transcript) error {
	summary, err := b.parser.ParseFile(t.Path)
	if err != nil {
		return err
	}

	day := t.ModTime
	if summary.HasTimestamps() && summary.Usage.TotalTokens > 0 {
		day = summary.LastTimestamp
	}

	delta := models.DailyStats{
		TotalWorkingMs:  summary.WorkingMs,
		TotalWaitingMs:  summary.WaitingMs,
		TotalIdleMs:     summary.IdleMs,
		SessionsStarted: 1,
		SessionsEnded:   1,
		ModelBreakdown:  models.CloneBreakdown(summary.ModelBreakdown),
	}
	delta.AddUsage(summary.Usage)

	b.stats.Merge(models.DateKey(day), delta)
	b.stats.RecordContribution(t.Path, models.TranscriptContribution{
		TokenUsage:     summary.Usage,
		ModelBreakdown: models.CloneBreakdown(summary.ModelBreakdown),
	})
	return nil
}
