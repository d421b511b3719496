package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "📚 Import daily statistics from existing transcripts",
	Long: `# 📚 Backfill Statistics

Scans every Claude Code transcript under the projects directory and folds
the ones not yet seen into the daily statistics.

Runs are idempotent, already processed transcripts are skipped. Stop the
tracker first, or trigger the backfill through **POST /v1/backfill** instead,
so both don't write the statistics file at once.`,
	Example: `  blocker backfill`,
	RunE:    runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	e, err := newEngine(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Errorf("❌ Failed to persist statistics: %v", err)
		}
	}()

	fmt.Printf("📂 Scanning %s\n", config.Runtime.ProjectsDir)
	progress, err := e.backfill.Run(ctx, printBackfillProgress)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	fmt.Printf("✅ Processed %d transcript(s), skipped %d, failed %d\n",
		progress.Processed, progress.Skipped, progress.Failed)
	return nil
}

func printBackfillProgress(p models.BackfillProgress) {
	if p.Status != models.BackfillProcessing {
		return
	}
	done := p.Processed + p.Failed
	todo := p.TotalFiles - p.Skipped
	fmt.Printf("\r⏳ %d/%d transcript(s)", done, todo)
}
