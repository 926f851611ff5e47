package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"opsdesk/internal/config"
)

// envPrefix namespaces every environment override.
const envPrefix = "OPSDESK"

// newEnv returns a viper instance that reads OPSDESK_* variables.
func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - OPSDESK_CONFIG_PATH: config file location (default: ~/.config/opsdesk.toml)
//   - OPSDESK_HOME: base directory for opsdesk data (default: ~/.local/share/opsdesk)
func GetDefaults() (map[string]string, error) {
	v := newEnv()

	configPath := v.GetString("config_path")
	baseDir := v.GetString("home")
	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "opsdesk.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "opsdesk")
		}
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// ApplyEnvOverrides replaces config values with OPSDESK_BASE_URL and
// OPSDESK_LOG_LEVEL when they are set.
func ApplyEnvOverrides(cfg *config.Config) {
	v := newEnv()
	if u := v.GetString("base_url"); u != "" {
		cfg.BaseURL = u
	}
	if lvl := v.GetString("log_level"); lvl != "" {
		cfg.LogLevel = lvl
	}
}
