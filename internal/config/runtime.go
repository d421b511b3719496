package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultListenAddr         = "127.0.0.1:8765"
	DefaultDebounceWindow     = 500 * time.Millisecond
	DefaultStaleTimeout       = 5 * time.Minute
	DefaultSweepInterval      = 30 * time.Second
	DefaultPersistDelay       = 5 * time.Second
	DefaultHistoryRetention   = 7 * 24 * time.Hour
	DefaultBackfillBatchSize  = 10
	DefaultBackfillBatchDelay = 100 * time.Millisecond
	DefaultPricingCacheTTL    = 24 * time.Hour
	DefaultPricingURL         = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

	HistoryFileName      = "sessions-history.json"
	StatsFileName        = "historical-stats.json"
	PricingCacheFileName = "pricing-cache.json"
	ConfigFileName       = "config.yaml"
)

// DefaultAskUserTools are the tools whose invocation means Claude is blocked on a human
var DefaultAskUserTools = []string{"AskUserQuestion", "ExitPlanMode"}

// RuntimeConfig holds every tunable of the tracker
type RuntimeConfig struct {
	HomeDir         string
	DataDir         string
	ClaudeConfigDir string
	ProjectsDir     string
	ListenAddr      string

	DebounceWindow   time.Duration
	StaleTimeout     time.Duration
	SweepInterval    time.Duration
	PersistDelay     time.Duration
	HistoryRetention time.Duration

	BackfillBatchSize  int
	BackfillBatchDelay time.Duration

	PricingURL      string
	PricingCacheTTL time.Duration

	AskUserTools []string
}

var (
	// Runtime is the global runtime configuration instance
	Runtime *RuntimeConfig
)

func init() {
	Runtime = DetectRuntime()
}

// DetectRuntime builds the configuration from defaults and environment overrides
func DetectRuntime() *RuntimeConfig {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "."
		}
	}

	claudeDir := getClaudeConfigDir(homeDir)

	cfg := &RuntimeConfig{
		HomeDir:            homeDir,
		DataDir:            filepath.Join(homeDir, ".claude-blocker"),
		ClaudeConfigDir:    claudeDir,
		ProjectsDir:        filepath.Join(claudeDir, "projects"),
		ListenAddr:         DefaultListenAddr,
		DebounceWindow:     DefaultDebounceWindow,
		StaleTimeout:       DefaultStaleTimeout,
		SweepInterval:      DefaultSweepInterval,
		PersistDelay:       DefaultPersistDelay,
		HistoryRetention:   DefaultHistoryRetention,
		BackfillBatchSize:  DefaultBackfillBatchSize,
		BackfillBatchDelay: DefaultBackfillBatchDelay,
		PricingURL:         DefaultPricingURL,
		PricingCacheTTL:    DefaultPricingCacheTTL,
		AskUserTools:       append([]string(nil), DefaultAskUserTools...),
	}

	cfg.applyEnv()
	return cfg
}

// getClaudeConfigDir honours CLAUDE_CONFIG_DIR, the same override Claude Code itself reads
func getClaudeConfigDir(homeDir string) string {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(homeDir, ".claude")
}

func (rc *RuntimeConfig) applyEnv() {
	if v := os.Getenv("BLOCKER_DATA_DIR"); v != "" {
		rc.DataDir = v
	}
	if v := os.Getenv("BLOCKER_ADDR"); v != "" {
		rc.ListenAddr = v
	}
	if v := os.Getenv("BLOCKER_PRICING_URL"); v != "" {
		rc.PricingURL = v
	}
	if v := os.Getenv("BLOCKER_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			rc.DebounceWindow = time.Duration(ms) * time.Millisecond
		} else {
			log.Printf("Warning: ignoring invalid BLOCKER_DEBOUNCE_MS=%q", v)
		}
	}
	if v := os.Getenv("BLOCKER_STALE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			rc.StaleTimeout = d
		} else {
			log.Printf("Warning: ignoring invalid BLOCKER_STALE_TIMEOUT=%q", v)
		}
	}
}

// fileConfig mirrors the YAML config file. Durations are Go duration strings.
type fileConfig struct {
	DataDir            string   `yaml:"data_dir"`
	ProjectsDir        string   `yaml:"projects_dir"`
	ListenAddr         string   `yaml:"listen_addr"`
	DebounceWindow     string   `yaml:"debounce_window"`
	StaleTimeout       string   `yaml:"stale_timeout"`
	SweepInterval      string   `yaml:"sweep_interval"`
	PersistDelay       string   `yaml:"persist_delay"`
	HistoryRetention   string   `yaml:"history_retention"`
	BackfillBatchSize  int      `yaml:"backfill_batch_size"`
	BackfillBatchDelay string   `yaml:"backfill_batch_delay"`
	PricingURL         string   `yaml:"pricing_url"`
	PricingCacheTTL    string   `yaml:"pricing_cache_ttl"`
	AskUserTools       []string `yaml:"ask_user_tools"`
}

// LoadFile overlays values from a YAML file. A missing file is not an error.
func (rc *RuntimeConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&rc.DataDir, fc.DataDir)
	setString(&rc.ProjectsDir, fc.ProjectsDir)
	setString(&rc.ListenAddr, fc.ListenAddr)
	setString(&rc.PricingURL, fc.PricingURL)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"debounce_window", fc.DebounceWindow, &rc.DebounceWindow},
		{"stale_timeout", fc.StaleTimeout, &rc.StaleTimeout},
		{"sweep_interval", fc.SweepInterval, &rc.SweepInterval},
		{"persist_delay", fc.PersistDelay, &rc.PersistDelay},
		{"history_retention", fc.HistoryRetention, &rc.HistoryRetention},
		{"backfill_batch_delay", fc.BackfillBatchDelay, &rc.BackfillBatchDelay},
		{"pricing_cache_ttl", fc.PricingCacheTTL, &rc.PricingCacheTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil || parsed < 0 {
			return fmt.Errorf("invalid %s %q in %s", d.name, d.raw, path)
		}
		*d.dst = parsed
	}

	if fc.BackfillBatchSize > 0 {
		rc.BackfillBatchSize = fc.BackfillBatchSize
	}
	if len(fc.AskUserTools) > 0 {
		rc.AskUserTools = fc.AskUserTools
	}
	return nil
}

// HistoryFile is the path of the persisted session history
func (rc *RuntimeConfig) HistoryFile() string {
	return filepath.Join(rc.DataDir, HistoryFileName)
}

// StatsFile is the path of the persisted daily statistics
func (rc *RuntimeConfig) StatsFile() string {
	return filepath.Join(rc.DataDir, StatsFileName)
}

// PricingCacheFile is the path of the cached remote price table
func (rc *RuntimeConfig) PricingCacheFile() string {
	return filepath.Join(rc.DataDir, PricingCacheFileName)
}

// ConfigFile is the path of the optional YAML overrides
func (rc *RuntimeConfig) ConfigFile() string {
	return filepath.Join(rc.DataDir, ConfigFileName)
}

// SettingsFile is Claude Code's settings.json, where hooks are registered
func (rc *RuntimeConfig) SettingsFile() string {
	return filepath.Join(rc.ClaudeConfigDir, "settings.json")
}

// ServerURL returns the base URL clients use to reach the tracker
func (rc *RuntimeConfig) ServerURL() string {
	addr := rc.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

// EnsureDataDir creates the data directory if it doesn't exist
func (rc *RuntimeConfig) EnsureDataDir() error {
	if rc.DataDir == "" {
		return nil
	}
	return os.MkdirAll(rc.DataDir, 0755)
}
