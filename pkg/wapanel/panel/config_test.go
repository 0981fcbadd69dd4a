package panel

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Run("picks up exported secrets without a config file", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "env-gemini-key")
		t.Setenv("WAPANEL_AUTH_TOKEN", "env-auth-token")
		t.Setenv("DAILY_REPORT_PROMPT", "Focus on decisions.")

		cfg := DefaultConfigFromEnv()
		if cfg.AI.APIKey != "env-gemini-key" {
			t.Errorf("AI.APIKey = %q, want env value", cfg.AI.APIKey)
		}
		if cfg.Server.AuthToken != "env-auth-token" {
			t.Errorf("Server.AuthToken = %q, want env value", cfg.Server.AuthToken)
		}
		if cfg.Report.CustomPrompt != "Focus on decisions." {
			t.Errorf("Report.CustomPrompt = %q, want env value", cfg.Report.CustomPrompt)
		}
	})

	t.Run("keeps defaults when nothing is exported", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("WAPANEL_AUTH_TOKEN", "")
		t.Setenv("DAILY_REPORT_PROMPT", "")

		cfg := DefaultConfigFromEnv()
		if cfg.AI.APIKey != "" || cfg.Server.AuthToken != "" {
			t.Errorf("expected empty secrets, got %q / %q", cfg.AI.APIKey, cfg.Server.AuthToken)
		}
		if cfg.Server.Port != 3000 {
			t.Errorf("Port = %d, want default 3000", cfg.Server.Port)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("writing config: %v", err)
		}
		return path
	}

	t.Run("overlays defaults", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 8080\nlogging:\n  format: text\n")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("Port = %d, want 8080", cfg.Server.Port)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("Host = %q, want default", cfg.Server.Host)
		}
		if cfg.Logging.Format != "text" {
			t.Errorf("Format = %q, want text", cfg.Logging.Format)
		}
	})

	t.Run("file values win over environment", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "env-key")
		path := writeConfig(t, "ai:\n  api_key: file-key\n")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.AI.APIKey != "file-key" {
			t.Errorf("AI.APIKey = %q, want file value", cfg.AI.APIKey)
		}
	})

	t.Run("environment fills empty file values", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "env-key")
		path := writeConfig(t, "server:\n  port: 8080\n")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.AI.APIKey != "env-key" {
			t.Errorf("AI.APIKey = %q, want env value", cfg.AI.APIKey)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})
}
