package app

import (
	"os"
	"path/filepath"
	"testing"

	"opsdesk/internal/config"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("OPSDESK_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("OPSDESK_HOME", "/custom/opsdesk")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/opsdesk" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/opsdesk")
		}
		if defaults["log_dir"] != "/custom/opsdesk/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/opsdesk/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("OPSDESK_CONFIG_PATH", "")
		t.Setenv("OPSDESK_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "opsdesk.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "opsdesk")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("overrides when set", func(t *testing.T) {
		t.Setenv("OPSDESK_BASE_URL", "https://staging.example.com")
		t.Setenv("OPSDESK_LOG_LEVEL", "debug")

		cfg := config.NewConfig(t.TempDir())
		ApplyEnvOverrides(cfg)

		if cfg.BaseURL != "https://staging.example.com" {
			t.Errorf("BaseURL = %q", cfg.BaseURL)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q", cfg.LogLevel)
		}
	})

	t.Run("keeps config values otherwise", func(t *testing.T) {
		t.Setenv("OPSDESK_BASE_URL", "")
		t.Setenv("OPSDESK_LOG_LEVEL", "")

		cfg := config.NewConfig(t.TempDir())
		cfg.BaseURL = "https://prod.example.com"
		ApplyEnvOverrides(cfg)

		if cfg.BaseURL != "https://prod.example.com" {
			t.Errorf("BaseURL = %q", cfg.BaseURL)
		}
		if cfg.LogLevel != config.DefaultLogLevel {
			t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, config.DefaultLogLevel)
		}
	})
}
