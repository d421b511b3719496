package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/vanpelt/claude-blocker/internal/config"
	"github.com/vanpelt/claude-blocker/internal/fileutil"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
)

// HookMatcher is one entry under an event in Claude Code's settings.json hooks section
type HookMatcher struct {
	Matcher string     `json:"matcher,omitempty"`
	Hooks   []HookSpec `json:"hooks"`
}

type HookSpec struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

const hookForwardTimeout = 2 * time.Second

var installHooksCmd = &cobra.Command{
	Use:   "install-hooks",
	Short: "🔧 Register the tracker with Claude Code's hooks",
	Long: `# 🔧 Install Claude Code Hooks

Registers **blocker hook** for every lifecycle event the tracker understands.

This command will:
- Create the Claude settings directory if it doesn't exist
- Back up the existing settings.json
- Add the hook to each event, leaving your other hooks and settings untouched

Running it again is safe, an already registered hook is not added twice.`,
	Example: `  # Install hooks
  blocker install-hooks

  # Show what was configured
  blocker install-hooks --verbose`,
	RunE: runInstallHooks,
}

var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Forward a Claude Code hook event to the tracker (internal use)",
	Hidden: true,
	Long: `# 🪝 Forward Claude Code Hook Events

Reads the hook payload from stdin and posts it to the tracker.

**Note:** This command is invoked by Claude Code. It never fails, so an offline
tracker can't interrupt a session.`,
	Example: `  echo '{"session_id":"abc","hook_event_name":"UserPromptSubmit","cwd":"/path/to/project"}' | blocker hook`,
	RunE:    runHook,
}

var verboseHooks bool

func init() {
	installHooksCmd.Flags().BoolVarP(&verboseHooks, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(installHooksCmd)
	rootCmd.AddCommand(hookCmd)
}

func runInstallHooks(cmd *cobra.Command, args []string) error {
	settingsFile := config.Runtime.SettingsFile()
	if verboseHooks {
		logger.Infof("📁 Using Claude settings: %s", settingsFile)
	}

	blockerPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get blocker binary path: %w", err)
	}
	hookCommand := blockerPath + " hook"

	backup, added, err := installHooks(settingsFile, hookCommand, time.Now())
	if err != nil {
		return err
	}

	fmt.Println("✅ Claude hooks installed successfully!")
	fmt.Println("")
	fmt.Printf("📝 Settings configured in: %s\n", settingsFile)
	if backup != "" {
		fmt.Printf("💾 Previous settings saved to: %s\n", backup)
	}
	fmt.Printf("🪝 Hook command: %s\n", hookCommand)
	if verboseHooks {
		fmt.Printf("➕ Registered %d new event hook(s)\n", added)
		fmt.Println("")
		fmt.Println("🚀 Start the tracker with: blocker serve")
	}
	return nil
}

// installHooks adds hookCommand to every tracked event in settingsFile. Unrelated settings and
// hooks are preserved. It returns the backup path, if a file existed, and how many events gained
// the hook.
func installHooks(settingsFile, hookCommand string, now time.Time) (string, int, error) {
	if err := os.MkdirAll(filepath.Dir(settingsFile), 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create Claude config directory: %w", err)
	}

	settings := map[string]json.RawMessage{}
	var backup string
	data, err := os.ReadFile(settingsFile)
	switch {
	case err == nil:
		backup = settingsFile + ".backup." + now.Format("20060102-150405")
		if err := copyFile(settingsFile, backup); err != nil {
			return "", 0, fmt.Errorf("failed to backup existing settings: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &settings); err != nil {
				return backup, 0, fmt.Errorf("failed to parse %s: %w", settingsFile, err)
			}
		}
	case !os.IsNotExist(err):
		return "", 0, fmt.Errorf("failed to read existing settings: %w", err)
	}

	hooks := map[string][]HookMatcher{}
	if raw, ok := settings["hooks"]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &hooks); err != nil {
			return backup, 0, fmt.Errorf("failed to parse hooks in %s: %w", settingsFile, err)
		}
	}

	added := 0
	for _, event := range models.AllHookEvents {
		name := string(event)
		if hasHookCommand(hooks[name], hookCommand) {
			continue
		}
		hooks[name] = append(hooks[name], HookMatcher{
			Hooks: []HookSpec{{Type: "command", Command: hookCommand}},
		})
		added++
	}

	rawHooks, err := json.Marshal(hooks)
	if err != nil {
		return backup, 0, fmt.Errorf("failed to marshal hooks: %w", err)
	}
	settings["hooks"] = rawHooks

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return backup, 0, fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := fileutil.WriteFileAtomic(settingsFile, append(out, '\n'), 0644); err != nil {
		return backup, 0, fmt.Errorf("failed to write settings file: %w", err)
	}
	return backup, added, nil
}

func hasHookCommand(matchers []HookMatcher, command string) bool {
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if h.Command == command {
				return true
			}
		}
	}
	return false
}

func runHook(cmd *cobra.Command, args []string) error {
	input, err := io.ReadAll(os.Stdin)
	if err != nil || len(input) == 0 {
		return nil
	}
	if err := forwardHook(config.Runtime.ServerURL()+"/v1/hooks", input, hookForwardTimeout); err != nil {
		logger.Debugf("🪝 Hook not delivered: %v", err)
	}
	return nil
}

// forwardHook posts the raw hook payload when it names an event the tracker handles.
// Anything else is dropped without contacting the server.
func forwardHook(url string, input []byte, timeout time.Duration) error {
	var event struct {
		SessionID     string               `json:"session_id"`
		HookEventName models.HookEventName `json:"hook_event_name"`
	}
	if err := json.Unmarshal(input, &event); err != nil {
		return fmt.Errorf("invalid hook payload: %w", err)
	}
	if event.SessionID == "" || !event.HookEventName.Known() {
		return nil
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(input)

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("tracker returned %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
