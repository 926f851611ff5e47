package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"opsdesk/internal/config"
)

// AgeSealer seals small blobs with filippo.io/age using an X25519 key pair.
// The public key is stored in plaintext. The private key is encrypted with a
// passphrase using age's scrypt-based passphrase encryption, or written
// as-is (mode 0600) when no passphrase is configured.
type AgeSealer struct {
	publicKeyPath  string
	privateKeyPath string
	passphrase     string

	mu       sync.Mutex
	identity age.Identity
}

// NewAgeSealer creates a new AgeSealer from configuration.
func NewAgeSealer(cfg config.EncryptionConfig, passphrase string) *AgeSealer {
	return &AgeSealer{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
		passphrase:     passphrase,
	}
}

// Setup generates a new X25519 key pair and writes both halves to disk.
func (e *AgeSealer) Setup() error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(e.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	privFile, err := os.OpenFile(e.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	if e.passphrase == "" {
		if _, err := io.WriteString(privFile, identity.String()+"\n"); err != nil {
			return fmt.Errorf("writing private key: %w", err)
		}
	} else {
		recipient, err := age.NewScryptRecipient(e.passphrase)
		if err != nil {
			return fmt.Errorf("creating scrypt recipient: %w", err)
		}
		w, err := age.Encrypt(privFile, recipient)
		if err != nil {
			return fmt.Errorf("creating encrypted writer: %w", err)
		}
		if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
			return fmt.Errorf("writing encrypted private key: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("finalizing encrypted private key: %w", err)
		}
	}

	e.mu.Lock()
	e.identity = identity
	e.mu.Unlock()
	return nil
}

// IsConfigured returns true if both key files exist.
func (e *AgeSealer) IsConfigured() bool {
	if _, err := os.Stat(e.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(e.privateKeyPath); err != nil {
		return false
	}
	return true
}

// EnsureSetup runs Setup unless a key pair is already on disk.
func (e *AgeSealer) EnsureSetup() error {
	if e.IsConfigured() {
		return nil
	}
	return e.Setup()
}

// Seal encrypts plaintext to the stored public key.
func (e *AgeSealer) Seal(plaintext []byte) ([]byte, error) {
	recipient, err := e.loadRecipient()
	if err != nil {
		return nil, fmt.Errorf("loading public key: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a blob produced by Seal. The private key is unlocked on
// first use and kept in memory afterwards.
func (e *AgeSealer) Open(ciphertext []byte) ([]byte, error) {
	identity, err := e.unlock()
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting data: %w", err)
	}
	return plaintext, nil
}

func (e *AgeSealer) unlock() (age.Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity != nil {
		return e.identity, nil
	}

	privData, err := os.ReadFile(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	keyData := privData
	if e.passphrase != "" {
		scrypt, err := age.NewScryptIdentity(e.passphrase)
		if err != nil {
			return nil, fmt.Errorf("creating scrypt identity: %w", err)
		}
		r, err := age.Decrypt(bytes.NewReader(privData), scrypt)
		if err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
		if keyData, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("reading decrypted private key: %w", err)
		}
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}
	e.identity = identities[0]
	return e.identity, nil
}

func (e *AgeSealer) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}

	return recipients[0], nil
}
