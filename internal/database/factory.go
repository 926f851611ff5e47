package database

import (
	"fmt"
	"os"
	"path/filepath"

	"opsdesk/internal/config"
	"opsdesk/internal/desk"
)

// SessionDBName is the file created under the configured data_dir.
const SessionDBName = "session.db"

// NewSQLiteStoreFromConfig opens the sqlite session store described by cfg.
func NewSQLiteStoreFromConfig(cfg config.SessionConfig, clock desk.Clock) (*SQLiteStore, error) {
	if cfg.Type != "sqlite" {
		return nil, fmt.Errorf("not a sqlite session config: %q", cfg.Type)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir required for sqlite session store")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return NewSQLiteStore(filepath.Join(cfg.DataDir, SessionDBName), clock)
}
