// Package config provides configuration management for oi.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oi-sh/oi/internal/util"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// OiDir is the oi configuration directory.
	OiDir = ".oi"
)

// Config represents the oi configuration.
type Config struct {
	// BaseURL is the control-plane endpoint.
	BaseURL string `yaml:"base_url"`

	// TokenEnv names the environment variable holding the API token. The
	// token itself is never written to disk.
	TokenEnv string `yaml:"token_env"`

	// Model settings
	Model        string `yaml:"model"`
	PlannerModel string `yaml:"planner_model,omitempty"`

	// Execution settings
	MaxParallel  int           `yaml:"max_parallel"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// Git identity applied to agent commits
	GitUserName  string `yaml:"git_user_name,omitempty"`
	GitUserEmail string `yaml:"git_user_email,omitempty"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://api.oi.sh",
		TokenEnv:     "OI_API_TOKEN",
		Model:        "sonnet",
		MaxParallel:  4,
		PollInterval: 5 * time.Second,
	}
}

// Token resolves the API token from the configured environment variable.
func (c *Config) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// Validate checks the config for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", c.MaxParallel)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// Load builds the effective configuration. Load order, later sources
// overriding earlier:
//  1. Built-in defaults
//  2. User config (~/.oi/config.yaml) - optional
//  3. Project config (./.oi/config.yaml) - optional
//  4. Environment variables (OI_*)
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, OiDir, ConfigFileName)
		if err := mergeFromFile(cfg, userPath); err != nil {
			return nil, err
		}
	}

	projectPath := filepath.Join(OiDir, ConfigFileName)
	if err := mergeFromFile(cfg, projectPath); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFile reads a single config file over the defaults, skipping the layered
// search. Used when --config is given explicitly, so a missing file is an
// error here.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := mergeFromFile(cfg, path); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// Save writes the config to path atomically, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return util.AtomicWriteFile(path, data, 0o644)
}

func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays OI_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OI_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("OI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("OI_PLANNER_MODEL"); v != "" {
		cfg.PlannerModel = v
	}
	if v := os.Getenv("OI_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallel = n
		}
	}
	if v := os.Getenv("OI_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("OI_GIT_USER_NAME"); v != "" {
		cfg.GitUserName = v
	}
	if v := os.Getenv("OI_GIT_USER_EMAIL"); v != "" {
		cfg.GitUserEmail = v
	}
}
