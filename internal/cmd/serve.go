package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/handlers"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/recovery"
)

var (
	noBackfill  bool
	noAccessLog bool
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "🚦 Run the session tracker",
	Long: `# 🚦 Run the Session Tracker

Accepts Claude Code hook events and serves the aggregate state.

## 🔌 Endpoints

- **POST /hook**, **POST /v1/hooks** - hook ingestion
- **GET /v1/state** - live sessions and the blocked flag
- **GET /v1/history**, **GET /v1/stats** - ended sessions and daily totals
- **GET|POST /v1/backfill** - transcript backfill progress and trigger
- **GET /v1/events** - Server-Sent Events stream
- **GET /ws** - WebSocket stream

History, daily stats and the pricing cache live in the data directory.`,
	Example: `  blocker serve
  blocker serve --addr 127.0.0.1:9000 --no-backfill`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&noBackfill, "no-backfill", false, "Skip the daily transcript backfill")
	serveCmd.Flags().BoolVar(&noAccessLog, "quiet", false, "Disable HTTP access logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	e, err := newEngine(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Errorf("❌ Failed to persist tracker state: %v", err)
		}
	}()

	e.store.Start(ctx)
	if !noBackfill {
		e.backfill.StartDaily(ctx)
	}

	app := handlers.NewApp(handlers.AppOptions{
		Context:   ctx,
		Store:     e.store,
		Backfill:  e.backfill,
		AccessLog: !noAccessLog,
	})

	addr := config.Runtime.ListenAddr
	listenErr := make(chan error, 1)
	recovery.SafeGo("http-server", func() {
		listenErr <- app.Listen(addr)
	})
	logger.Infof("🚦 Tracking Claude Code sessions on %s", config.Runtime.ServerURL())

	select {
	case sig := <-sigChan:
		logger.Infof("🛑 Received %v, shutting down", sig)
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	cancel()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warnf("⚠️  HTTP shutdown: %v", err)
	}
	return nil
}
