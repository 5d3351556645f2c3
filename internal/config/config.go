// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Judge  JudgeConfig  `yaml:"judge"`
	Battle BattleConfig `yaml:"battle"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// JudgeConfig holds the evaluator service settings.
type JudgeConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// BattleConfig holds the turn-protocol budgets.
type BattleConfig struct {
	RoundLimitMs    int64         `yaml:"round_limit_ms"`
	TotalLimitMs    int64         `yaml:"total_limit_ms"`
	OvertimeLimitMs int64         `yaml:"overtime_limit_ms"`
	PenaltyStep     int           `yaml:"penalty_step"`
	PenaltyMax      int           `yaml:"penalty_max"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8190,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		},
		Store: StoreConfig{
			DBPath: "",
		},
		Judge: JudgeConfig{
			URL:     "https://openrouter.ai/api/v1/chat/completions",
			Model:   "deepseek/deepseek-chat-v3.1:free",
			Timeout: 2 * time.Minute,
		},
		Battle: BattleConfig{
			RoundLimitMs:    120_000,
			TotalLimitMs:    300_000,
			OvertimeLimitMs: 30_000,
			PenaltyStep:     3,
			PenaltyMax:      18,
			SettleDelay:     3 * time.Second,
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom loads configuration from a specific path, merging over defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file, proceed with defaults
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Apply .env overrides if file exists
	if env, err := LoadEnv(".env"); err == nil {
		ApplyEnvOverrides(cfg, env)
	}

	// Process environment wins over both
	ApplyEnvOverrides(cfg, processEnv())

	return cfg, nil
}

// SaveTo saves the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "discussion-server.yaml"
	}
	return filepath.Join(home, ".discussion-server", "config.yaml")
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "discussion.db"
	}
	return filepath.Join(home, ".discussion-server", "discussion.db")
}
