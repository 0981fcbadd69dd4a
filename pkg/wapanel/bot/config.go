// Package bot implements the auto-reply engine: static trigger patterns
// checked first, then an optional AI fallback with conversation context.
package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Pattern is a static trigger/response pair. A message matches when its
// lowercased text contains the lowercased trigger.
type Pattern struct {
	Trigger  string `json:"trigger"`
	Response string `json:"response"`
}

// Config holds the bot's behavior settings.
type Config struct {
	Enabled           bool      `json:"enabled"`
	UseAI             bool      `json:"useAI"`
	Patterns          []Pattern `json:"patterns"`
	SystemInstruction string    `json:"systemInstruction"`
}

// DefaultConfig returns the out-of-the-box bot configuration: disabled,
// with a small starter pattern set.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		UseAI:   false,
		Patterns: []Pattern{
			{Trigger: "hello", Response: "Hi there! How can I help you?"},
			{Trigger: "hi", Response: "Hello! 👋"},
			{Trigger: "help", Response: "I'm a WhatsApp bot. You can chat with me!"},
		},
		SystemInstruction: "You are a helpful, friendly WhatsApp assistant. Keep your responses concise and conversational (1-3 sentences when possible). Be natural and engaging. If asked about previous messages, refer to the conversation history provided.",
	}
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current value.
type ConfigUpdate struct {
	Enabled           *bool      `json:"enabled,omitempty"`
	UseAI             *bool      `json:"useAI,omitempty"`
	Patterns          *[]Pattern `json:"patterns,omitempty"`
	SystemInstruction *string    `json:"systemInstruction,omitempty"`
}

// ConfigPersister stores the bot configuration.
type ConfigPersister interface {
	Load() (*Config, error)
	Save(cfg Config) error
}

// FileConfigPersister stores the configuration as a JSON file.
type FileConfigPersister struct {
	path string
}

// NewFileConfigPersister creates a persister writing to path, ensuring
// the parent directory exists.
func NewFileConfigPersister(path string) (*FileConfigPersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileConfigPersister{path: path}, nil
}

// Load reads the persisted configuration. Returns nil when no file
// exists yet.
func (p *FileConfigPersister) Load() (*Config, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bot config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal bot config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration.
func (p *FileConfigPersister) Save(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bot config: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("write bot config: %w", err)
	}
	return nil
}

// ConfigStore is the concurrency-safe, persisted home of the bot
// configuration. Persistence failures are logged and swallowed.
type ConfigStore struct {
	cfg       Config
	persister ConfigPersister
	logger    *slog.Logger

	mu sync.Mutex
}

// NewConfigStore loads the persisted configuration, falling back to
// defaults when nothing is stored or the stored data is unreadable.
func NewConfigStore(persister ConfigPersister, logger *slog.Logger) *ConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bot")

	cfg := DefaultConfig()
	if persister != nil {
		loaded, err := persister.Load()
		if err != nil {
			logger.Warn("loading bot config failed, using defaults", "error", err)
		} else if loaded != nil {
			cfg = *loaded
			logger.Info("bot config loaded", "enabled", cfg.Enabled, "patterns", len(cfg.Patterns))
		}
	}
	if cfg.Patterns == nil {
		cfg.Patterns = []Pattern{}
	}

	return &ConfigStore{cfg: cfg, persister: persister, logger: logger}
}

// Get returns a copy of the current configuration.
func (s *ConfigStore) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Update applies a partial change, persists, and returns the resulting
// configuration.
func (s *ConfigStore) Update(update ConfigUpdate) Config {
	s.mu.Lock()
	if update.Enabled != nil {
		s.cfg.Enabled = *update.Enabled
	}
	if update.UseAI != nil {
		s.cfg.UseAI = *update.UseAI
	}
	if update.Patterns != nil {
		s.cfg.Patterns = append([]Pattern(nil), (*update.Patterns)...)
	}
	if update.SystemInstruction != nil {
		s.cfg.SystemInstruction = *update.SystemInstruction
	}
	out := s.snapshot()
	s.mu.Unlock()

	s.persist()
	return out
}

// AddPattern appends a trigger/response pair and persists.
func (s *ConfigStore) AddPattern(trigger, response string) error {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" || response == "" {
		return errors.New("pattern trigger and response are required")
	}

	s.mu.Lock()
	s.cfg.Patterns = append(s.cfg.Patterns, Pattern{Trigger: trigger, Response: response})
	s.mu.Unlock()

	s.persist()
	return nil
}

// RemovePattern removes every pattern with the given trigger, reporting
// whether anything was removed.
func (s *ConfigStore) RemovePattern(trigger string) bool {
	s.mu.Lock()
	kept := s.cfg.Patterns[:0]
	removed := false
	for _, p := range s.cfg.Patterns {
		if p.Trigger == trigger {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	s.cfg.Patterns = kept
	s.mu.Unlock()

	if removed {
		s.persist()
	}
	return removed
}

// snapshot returns a copy of the config. Caller must hold s.mu.
func (s *ConfigStore) snapshot() Config {
	cfg := s.cfg
	cfg.Patterns = append([]Pattern(nil), s.cfg.Patterns...)
	return cfg
}

func (s *ConfigStore) persist() {
	if s.persister == nil {
		return
	}
	s.mu.Lock()
	cfg := s.snapshot()
	s.mu.Unlock()

	if err := s.persister.Save(cfg); err != nil {
		s.logger.Error("saving bot config failed", "error", err)
	}
}
