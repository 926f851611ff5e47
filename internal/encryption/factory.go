package encryption

import (
	"fmt"
	"os"

	"opsdesk/internal/config"
)

// Sealer encrypts and decrypts small blobs at rest.
type Sealer interface {
	// EnsureSetup creates key material on first use.
	EnsureSetup() error
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

var (
	_ Sealer = (*AgeSealer)(nil)
	_ Sealer = (*TestSealer)(nil)
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
// The passphrase, if any, is read from the environment variable the
// configuration names.
func NewSealerFromConfig(cfg config.EncryptionConfig) (Sealer, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age sealer requires public_key_path and private_key_path")
		}
		var passphrase string
		if cfg.PassphraseEnv != "" {
			passphrase = os.Getenv(cfg.PassphraseEnv)
			if passphrase == "" {
				return nil, fmt.Errorf("passphrase variable %s is not set", cfg.PassphraseEnv)
			}
		}
		return NewAgeSealer(cfg, passphrase), nil
	case "test":
		return NewTestSealer(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
