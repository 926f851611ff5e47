package session

import (
	"fmt"

	"opsdesk/internal/config"
	"opsdesk/internal/database"
	"opsdesk/internal/desk"
	"opsdesk/internal/encryption"
)

// NewStoreFromConfig creates a session store based on the session config type.
func NewStoreFromConfig(cfg config.SessionConfig, clock desk.Clock) (desk.SessionStore, error) {
	switch cfg.Type {
	case "sqlite", "":
		cfg.Type = "sqlite"
		return database.NewSQLiteStoreFromConfig(cfg, clock)
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url required for redis session store")
		}
		return NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
	case "encrypted_file":
		sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
		if err != nil {
			return nil, err
		}
		return NewEncryptedFileStore(cfg.FilePath, sealer)
	default:
		return nil, fmt.Errorf("unknown session store type: %s", cfg.Type)
	}
}
