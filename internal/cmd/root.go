package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/logger"
)

var (
	debugFlag   bool
	dataDirFlag string
	configFlag  string
	addrFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "blocker",
	Short: "🚦 Track Claude Code sessions and block distractions while nothing is working",
	Long: `# 🚦 claude-blocker

**Tracks what Claude Code is doing across every session** and reports whether work is happening.

## ✨ Features

- 🪝 **Hook ingestion** for every Claude Code lifecycle event
- 🚦 **Live state** over HTTP, Server-Sent Events and WebSocket
- 💰 **Token and cost accounting** reconciled against session transcripts
- 📊 **Daily statistics** backfilled from your transcript history

## 🚀 Getting Started

Run **blocker install-hooks** once, then **blocker serve**.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupRuntime(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Directory for history, stats and pricing cache (default ~/.claude-blocker)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "YAML config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Tracker address (default "+config.DefaultListenAddr+")")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderMarkdownHelp(cmd)
	})
}

// setupRuntime layers the config file and flags over the detected runtime, then configures logging
func setupRuntime(cmd *cobra.Command) error {
	rc := config.Runtime
	if dataDirFlag != "" {
		rc.DataDir = dataDirFlag
	}

	configPath := configFlag
	if configPath == "" {
		configPath = rc.ConfigFile()
	}
	if err := rc.LoadFile(configPath); err != nil {
		return err
	}

	// flags win over the file
	if dataDirFlag != "" {
		rc.DataDir = dataDirFlag
	}
	if addrFlag != "" {
		rc.ListenAddr = addrFlag
	}

	level := logger.GetLogLevelFromEnv()
	if debugFlag {
		level = logger.LevelDebug
	}
	logger.Configure(level, isatty.IsTerminal(os.Stderr.Fd()))
	return nil
}

// renderMarkdownHelp renders command help using glamour
func renderMarkdownHelp(cmd *cobra.Command) {
	var helpContent strings.Builder

	if cmd.Long != "" {
		helpContent.WriteString(cmd.Long)
		helpContent.WriteString("\n\n")
	} else if cmd.Short != "" {
		helpContent.WriteString("# " + cmd.Short)
		helpContent.WriteString("\n\n")
	}

	helpContent.WriteString("## 📖 Usage\n\n")
	helpContent.WriteString("```bash\n")
	helpContent.WriteString(cmd.UseLine())
	helpContent.WriteString("\n```\n\n")

	if cmd.Example != "" {
		helpContent.WriteString("## 💡 Examples\n\n```bash\n")
		helpContent.WriteString(cmd.Example)
		helpContent.WriteString("\n```\n\n")
	}

	if cmd.HasAvailableSubCommands() {
		helpContent.WriteString("## 🔧 Available Commands\n\n")
		for _, subCmd := range cmd.Commands() {
			if subCmd.IsAvailableCommand() {
				helpContent.WriteString(fmt.Sprintf("- **%s** - %s\n", subCmd.Name(), subCmd.Short))
			}
		}
		helpContent.WriteString("\n")
	}

	if cmd.HasAvailableLocalFlags() {
		helpContent.WriteString("## ⚙️  Flags\n\n```\n")
		helpContent.WriteString(cmd.LocalFlags().FlagUsages())
		helpContent.WriteString("```\n\n")
	}

	if cmd.HasAvailableInheritedFlags() {
		helpContent.WriteString("## 🌐 Global Flags\n\n```\n")
		helpContent.WriteString(cmd.InheritedFlags().FlagUsages())
		helpContent.WriteString("```\n\n")
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		_ = cmd.Usage()
		return
	}

	rendered, err := renderer.Render(helpContent.String())
	if err != nil {
		_ = cmd.Usage()
		return
	}

	fmt.Print(rendered)
}
