package cmd

import (
	"github.com/spf13/cobra"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "👀 Show live sessions from a running tracker",
	Long: `# 👀 Watch Sessions

Connects to the tracker's WebSocket stream and shows every live session,
its status and recent tools. Reconnects automatically when the tracker restarts.

## ⌨️  Keys
- **q** - quit
- **t** - toggle recent tools`,
	Example: `  blocker watch
  blocker watch --addr 127.0.0.1:9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(config.Runtime.ServerURL())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
