package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"opsdesk/internal/desk"
	"opsdesk/internal/encryption"
)

// EncryptedFileStore keeps the session as one sealed JSON object on disk.
// Every call re-reads the file so concurrent terminals see each other's
// writes; writes replace the file atomically.
type EncryptedFileStore struct {
	path   string
	sealer encryption.Sealer

	mu sync.Mutex
}

var _ desk.SessionStore = (*EncryptedFileStore)(nil)

// NewEncryptedFileStore creates the store and the sealer's key material if
// it does not exist yet.
func NewEncryptedFileStore(path string, sealer encryption.Sealer) (*EncryptedFileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file_path required for encrypted_file session store")
	}
	if err := sealer.EnsureSetup(); err != nil {
		return nil, fmt.Errorf("setting up session encryption: %w", err)
	}
	return &EncryptedFileStore{path: path, sealer: sealer}, nil
}

func (s *EncryptedFileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *EncryptedFileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

func (s *EncryptedFileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

func (s *EncryptedFileStore) Close() error { return nil }

func (s *EncryptedFileStore) load() (map[string]string, error) {
	sealed, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}
	values := make(map[string]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("decoding session file: %w", err)
	}
	return values, nil
}

func (s *EncryptedFileStore) save(values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return fmt.Errorf("sealing session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp session file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}
