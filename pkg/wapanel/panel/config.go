// Package panel wires the control panel together: channel, bot,
// conversation memory, message index, webhook forwarding, and reports.
package panel

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/wapanel/pkg/wapanel/channels/whatsapp"
)

// Config is the top-level application configuration, loaded from YAML
// with environment variable expansion.
type Config struct {
	// DataDir is the base directory for persisted state (conversations,
	// bot config, webhook config, message index).
	DataDir string `yaml:"data_dir"`

	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`

	WhatsApp whatsapp.Config `yaml:"whatsapp"`

	AI            AIConfig            `yaml:"ai"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Report        ReportConfig        `yaml:"report"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// ServerConfig configures the web panel's HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AuthToken protects the API with bearer authentication. Empty
	// disables authentication (local use only).
	AuthToken string `yaml:"auth_token"`

	// AllowedOrigins is the CORS allowlist for browser clients.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AIConfig configures the Gemini backend.
type AIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ConversationsConfig tunes the conversation memory.
type ConversationsConfig struct {
	// TimeoutHours is the inactivity period before a session is swept.
	TimeoutHours int `yaml:"timeout_hours"`
}

// ReportConfig tunes daily report generation.
type ReportConfig struct {
	// CustomPrompt replaces the default summarization instruction.
	CustomPrompt string `yaml:"custom_prompt"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
		WhatsApp:      whatsapp.DefaultConfig(),
		AI:            AIConfig{Model: ""},
		Conversations: ConversationsConfig{TimeoutHours: 24},
	}
}

// DefaultConfigFromEnv builds the configuration for running without a
// config file: defaults, with a .env from the working directory loaded
// and environment secrets applied on top.
func DefaultConfigFromEnv() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// LoadConfig reads a YAML configuration file, overlaying defaults.
// A .env file next to the config (or in the working directory) is
// loaded first, and ${VAR} references in the YAML are expanded.
func LoadConfig(path string) (*Config, error) {
	// godotenv does not overwrite variables already set.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides resolves secrets from the environment when the
// config leaves them empty.
func applyEnvOverrides(cfg *Config) {
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Server.AuthToken == "" {
		cfg.Server.AuthToken = os.Getenv("WAPANEL_AUTH_TOKEN")
	}
	if cfg.Report.CustomPrompt == "" {
		cfg.Report.CustomPrompt = os.Getenv("DAILY_REPORT_PROMPT")
	}
}

// Paths for persisted state under DataDir.

func (c *Config) ConversationsPath() string {
	return filepath.Join(c.DataDir, "conversations.json")
}

func (c *Config) BotConfigPath() string {
	return filepath.Join(c.DataDir, "bot-config.json")
}

func (c *Config) WebhookConfigPath() string {
	return filepath.Join(c.DataDir, "webhook-config.json")
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "wapanel.db")
}
