package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default configuration values, exported so the broker, limiter, and guard
// can fall back to them without importing a concrete Config instance.
const (
	DefaultToolTimeoutSeconds   = 30
	DefaultToolOutputLimitBytes = 256 * 1024

	DefaultMaxToolCallsPerMessage = 5
	DefaultMaxToolCallsPerMinute  = 30
	DefaultMaxFilesReadPerRun     = 200
	DefaultMaxBytesReadPerRun     = 50 * 1024 * 1024
	DefaultMaxRuntimeSeconds      = 1800
)

// Config is the full on-disk settings document for the broker, loaded from
// a YAML file and overridable per profile/workspace at runtime by the
// identity snapshot layer.
type Config struct {
	SafeMode              bool   `yaml:"safe_mode"`
	PrivacyMode           bool   `yaml:"privacy_mode"`
	AllowQueryTextLogging bool   `yaml:"allow_query_text_logging"`
	QuarantineMode        bool   `yaml:"quarantine_mode"`
	RedactionEnabled      bool   `yaml:"redaction_enabled"`
	VerboseLogging        bool   `yaml:"verbose_logging"`
	WritePreviewDefault   bool   `yaml:"write_preview_default"`
	DataDir               string `yaml:"data_dir"`

	Limits LimitsConfig `yaml:"limits"`
	Tool   ToolConfig   `yaml:"tool"`
}

// LimitsConfig carries the five run-limit defaults the run limiter composes
// with policy-level overrides under the active identity.
type LimitsConfig struct {
	MaxToolCallsPerMessage int   `yaml:"max_tool_calls_per_message"`
	MaxToolCallsPerMinute  int   `yaml:"max_tool_calls_per_minute"`
	MaxFilesReadPerRun     int   `yaml:"max_files_read_per_run"`
	MaxBytesReadPerRun     int64 `yaml:"max_bytes_read_per_run"`
	MaxRuntimeSeconds      int   `yaml:"max_runtime_seconds"`
}

// ToolConfig carries subprocess isolation defaults for the tool runner.
type ToolConfig struct {
	TimeoutSeconds   int   `yaml:"timeout_seconds"`
	OutputLimitBytes int64 `yaml:"output_limit_bytes"`
}

// Default returns the baseline configuration applied before any YAML file
// or profile override is merged in.
func Default() *Config {
	return &Config{
		SafeMode:              true,
		PrivacyMode:           false,
		AllowQueryTextLogging: true,
		QuarantineMode:        false,
		RedactionEnabled:      true,
		VerboseLogging:        false,
		WritePreviewDefault:   true,
		DataDir:               defaultDataDir(),
		Limits: LimitsConfig{
			MaxToolCallsPerMessage: DefaultMaxToolCallsPerMessage,
			MaxToolCallsPerMinute:  DefaultMaxToolCallsPerMinute,
			MaxFilesReadPerRun:     DefaultMaxFilesReadPerRun,
			MaxBytesReadPerRun:     DefaultMaxBytesReadPerRun,
			MaxRuntimeSeconds:      DefaultMaxRuntimeSeconds,
		},
		Tool: ToolConfig{
			TimeoutSeconds:   DefaultToolTimeoutSeconds,
			OutputLimitBytes: DefaultToolOutputLimitBytes,
		},
	}
}

// Load reads a YAML config file at path and merges it over Default(). A
// missing file is not an error: the defaults are returned unchanged, the
// same way a fresh install has no config file yet.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.enforceSafeDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// enforceSafeDefaults applies the one cross-field rule the settings layer
// must never leave inconsistent: privacy mode always wins over a stale
// allow_query_text_logging=true left in an old config file.
func (c *Config) enforceSafeDefaults() {
	if c.PrivacyMode {
		c.AllowQueryTextLogging = false
	}
}

// Validate rejects settings combinations that would leave the guard unable
// to make a safe decision.
func (c *Config) Validate() error {
	if c.Limits.MaxToolCallsPerMinute <= 0 {
		return fmt.Errorf("limits.max_tool_calls_per_minute must be positive")
	}
	if c.Limits.MaxToolCallsPerMessage <= 0 {
		return fmt.Errorf("limits.max_tool_calls_per_message must be positive")
	}
	if c.Limits.MaxFilesReadPerRun <= 0 {
		return fmt.Errorf("limits.max_files_read_per_run must be positive")
	}
	if c.Limits.MaxBytesReadPerRun <= 0 {
		return fmt.Errorf("limits.max_bytes_read_per_run must be positive")
	}
	if c.Limits.MaxRuntimeSeconds <= 0 {
		return fmt.Errorf("limits.max_runtime_seconds must be positive")
	}
	if c.Tool.TimeoutSeconds <= 0 {
		return fmt.Errorf("tool.timeout_seconds must be positive")
	}
	if c.Tool.OutputLimitBytes <= 0 {
		return fmt.Errorf("tool.output_limit_bytes must be positive")
	}
	if c.PrivacyMode && c.AllowQueryTextLogging {
		return fmt.Errorf("privacy_mode requires allow_query_text_logging=false")
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "warden")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".warden")
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// ResolveDataDir returns the absolute data directory the broker should use,
// expanding a leading ~ the way shell tools do.
func ResolveDataDir(cfg *Config) string {
	dir := expandHomeDir(cfg.DataDir)
	if dir == "" {
		dir = defaultDataDir()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}
