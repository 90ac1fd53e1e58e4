// Package config loads the supervisor's configuration through a layered
// koanf stack: struct defaults, an optional YAML file, then environment
// variables, in that precedence order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"yesman-claude/logging"
)

// Config holds every tunable named in spec.md §6 plus the ambient
// settings (logging, pattern/store directories) a full daemon needs.
type Config struct {
	// Control-plane API.
	BindAddr string `koanf:"bind_addr"`

	// Pattern library (C3) and learner store (C4) locations.
	PatternDir string `koanf:"pattern_dir"`
	StoreDir   string `koanf:"store_dir"`

	// Timings; see spec.md §4.2/§4.5/§5. PollInterval, PollMaxInterval,
	// CaptureTimeout and APIRequestTime are loaded but no component reads
	// them: the collector polls at a fixed 250ms base with a 2s cap, and
	// captures and API requests carry no timeout of their own.
	PollInterval     time.Duration `koanf:"poll_interval"`
	PollMaxInterval  time.Duration `koanf:"poll_max_interval"`
	DebounceWindow   time.Duration `koanf:"debounce_window"`
	CooldownWindow   time.Duration `koanf:"cooldown_window"`
	CaptureTimeout   time.Duration `koanf:"capture_timeout"`
	SendKeysTimeout  time.Duration `koanf:"send_keys_timeout"`
	LearnerFlushTime time.Duration `koanf:"learner_flush_interval"`
	APIRequestTime   time.Duration `koanf:"api_request_timeout"`
	BackendBackoff   time.Duration `koanf:"backend_backoff_base"`
	BackendBackoffMx time.Duration `koanf:"backend_backoff_max"`
	ReconcileEvery   time.Duration `koanf:"reconcile_interval"`
	ShutdownGrace    time.Duration `koanf:"shutdown_grace"`

	// Adaptive responder thresholds; spec.md §4.4 and Open Questions.
	ConfidenceThreshold   float64 `koanf:"confidence_threshold"`
	ConfidenceMargin      float64 `koanf:"confidence_margin"`
	HalfLifeDays          float64 `koanf:"half_life_days"`
	MaxRecordsPerPrint    int     `koanf:"max_records_per_fingerprint"`
	CrossProjectWidening  bool    `koanf:"cross_project_widening"`
	CrossProjectWeight    float64 `koanf:"cross_project_weight"`
	RecentPromptLines     int     `koanf:"recent_prompt_lines"`
	EventSubscriberBuffer int     `koanf:"event_subscriber_buffer"`
	ControllerMailboxSize int     `koanf:"controller_mailbox_size"`
	WorkerPoolMax         int     `koanf:"worker_pool_max"`

	// Logging.
	LogLevel string `koanf:"log_level"`
	LogFile  string `koanf:"log_file"`

	// Pane backend shell resolution (see paneio.ResolveShell).
	ShellOverride string   `koanf:"shell_override"`
	ShellEnv      []string `koanf:"shell_env"`
}

// Defaults returns the built-in values, matching spec.md's defaults and
// the Open Question decisions recorded in DESIGN.md.
func Defaults() Config {
	return Config{
		BindAddr:              "127.0.0.1:8001",
		PatternDir:            "./patterns",
		StoreDir:              "./data/learner",
		PollInterval:          250 * time.Millisecond,
		PollMaxInterval:       2 * time.Second,
		DebounceWindow:        400 * time.Millisecond,
		CooldownWindow:        1500 * time.Millisecond,
		CaptureTimeout:        2 * time.Second,
		SendKeysTimeout:       2 * time.Second,
		LearnerFlushTime:      2 * time.Second,
		APIRequestTime:        10 * time.Second,
		BackendBackoff:        500 * time.Millisecond,
		BackendBackoffMx:      30 * time.Second,
		ReconcileEvery:        5 * time.Second,
		ShutdownGrace:         3 * time.Second,
		ConfidenceThreshold:   0.7,
		ConfidenceMargin:      0.15,
		HalfLifeDays:          14,
		MaxRecordsPerPrint:    500,
		CrossProjectWidening:  true,
		CrossProjectWeight:    0.5,
		RecentPromptLines:     40,
		EventSubscriberBuffer: 256,
		ControllerMailboxSize: 64,
		WorkerPoolMax:         32,
		LogLevel:              "info",
	}
}

// Load builds the layered configuration: defaults, then an optional YAML
// file at path (skipped silently if path is empty or missing), then
// YESMAN_-prefixed environment variables.
func Load(path string) (*Config, error) {
	defaults := Defaults()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			logging.Fallback().Sugar().Warnf("config: optional file %q not loaded: %v", path, err)
		}
	}

	envProvider := env.Provider("YESMAN_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "YESMAN_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configuration that would make the supervisor
// unrunnable; callers should treat a non-nil error as exit code 1.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("config: bind_addr must not be empty")
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence_threshold must be in (0,1]")
	}
	if c.HalfLifeDays <= 0 {
		return fmt.Errorf("config: half_life_days must be positive")
	}
	if c.MaxRecordsPerPrint <= 0 {
		return fmt.Errorf("config: max_records_per_fingerprint must be positive")
	}
	return nil
}
