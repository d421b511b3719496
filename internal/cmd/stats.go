package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/services"
	"github.com/vanpelt/claude-blocker/internal/tui"
)

var (
	statsFrom string
	statsTo   string
	statsDays int
	statsJSON bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "📊 Print daily usage statistics",
	Long: `# 📊 Daily Statistics

Prints working, waiting and idle time, sessions, tokens and cost per day
from the persisted statistics. Run **blocker backfill** first to include
transcripts recorded before the tracker was installed.`,
	Example: `  blocker stats
  blocker stats --days 30
  blocker stats --from 2025-03-01 --to 2025-03-31 --json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsFrom, "from", "", "First day (YYYY-MM-DD)")
	statsCmd.Flags().StringVar(&statsTo, "to", "", "Last day (YYYY-MM-DD), defaults to today")
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "Number of days ending today, ignored when --from is set")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print JSON instead of a table")
}

func runStats(cmd *cobra.Command, args []string) error {
	from, to, err := statsRange(statsFrom, statsTo, statsDays, time.Now())
	if err != nil {
		return err
	}

	// nothing is merged here, so the persist delay never fires
	stats := services.NewStatsStore(config.Runtime.StatsFile(), time.Hour)
	if _, err := stats.Load(); err != nil {
		return err
	}

	days := stats.Range(from, to)
	totals := stats.Totals(from, to)

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"days": days, "totals": totals})
	}

	fmt.Printf("📊 %s → %s\n", from, to)
	if len(days) == 0 {
		fmt.Println("No activity recorded in this range")
		return nil
	}
	fmt.Println(tui.RenderStatsTable(days, totals))
	return nil
}

// statsRange resolves the flags into an inclusive pair of date keys
func statsRange(from, to string, days int, now time.Time) (string, string, error) {
	if to == "" {
		to = models.DateKey(now)
	}
	end, err := time.ParseInLocation(models.DateLayout, to, time.Local)
	if err != nil {
		return "", "", fmt.Errorf("invalid --to %q: expected YYYY-MM-DD", to)
	}

	if from == "" {
		if days < 1 {
			return "", "", fmt.Errorf("--days must be at least 1")
		}
		from = end.AddDate(0, 0, -(days - 1)).Format(models.DateLayout)
	} else if _, err := time.ParseInLocation(models.DateLayout, from, time.Local); err != nil {
		return "", "", fmt.Errorf("invalid --from %q: expected YYYY-MM-DD", from)
	}

	if from > to {
		return "", "", fmt.Errorf("--from %s is after --to %s", from, to)
	}
	return from, to, nil
}
