package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for opsdesk.
type Config struct {
	BaseURL   string          `toml:"base_url"`
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	LogLevel  string          `toml:"log_level"`
	HTTP      HTTPConfig      `toml:"http"`
	Poll      PollConfig      `toml:"poll"`
	Mutations MutationsConfig `toml:"mutations"`
	Session   SessionConfig   `toml:"session"`
}

// HTTPConfig holds settings for the backend client.
type HTTPConfig struct {
	Timeout Duration `toml:"timeout"`
}

// PollConfig holds the polling cadence of each screen.
type PollConfig struct {
	Messages     Duration `toml:"messages"`
	Calls        Duration `toml:"calls"`
	Appointments Duration `toml:"appointments"`
	Analytics    Duration `toml:"analytics"`
	SummaryDays  int      `toml:"summary_days"`
}

// MutationsConfig controls optimistic mutations.
type MutationsConfig struct {
	// PendingTimeout rolls back a mutation that has not settled in time.
	PendingTimeout Duration `toml:"pending_timeout"`
}

// SessionConfig represents configuration for the local session store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SessionConfig struct {
	Type string `toml:"type"` // "sqlite", "memory", "redis" or "encrypted_file"

	// sqlite-specific fields (only used when Type == "sqlite")
	DataDir string `toml:"data_dir,omitempty"`

	// redis-specific fields (only used when Type == "redis")
	RedisURL    string `toml:"redis_url,omitempty"`
	RedisPrefix string `toml:"redis_prefix,omitempty"`

	// encrypted_file-specific fields (only used when Type == "encrypted_file")
	FilePath   string           `toml:"file_path,omitempty"`
	Encryption EncryptionConfig `toml:"encryption,omitempty"`
}

// EncryptionConfig holds paths to the age key pair sealing the session file.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	// PassphraseEnv names the environment variable holding the passphrase
	// that protects the private key. Empty leaves the key unprotected on disk.
	PassphraseEnv string `toml:"passphrase_env,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultLogLevel       = "info"
	DefaultHTTPTimeout    = 10 * time.Second
	DefaultMessagesPoll   = 3 * time.Second
	DefaultCallsPoll      = 5 * time.Second
	DefaultAppointments   = 5 * time.Second
	DefaultAnalyticsPoll  = 10 * time.Second
	DefaultSummaryDays    = 7
	DefaultPendingTimeout = 30 * time.Second
)

// NewConfig creates a new Config rooted at baseDir with every default set.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Session: SessionConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field. Files written by older versions
// may lack whole sections.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	setDefault(&c.HTTP.Timeout, DefaultHTTPTimeout)
	setDefault(&c.Poll.Messages, DefaultMessagesPoll)
	setDefault(&c.Poll.Calls, DefaultCallsPoll)
	setDefault(&c.Poll.Appointments, DefaultAppointments)
	setDefault(&c.Poll.Analytics, DefaultAnalyticsPoll)
	if c.Poll.SummaryDays <= 0 {
		c.Poll.SummaryDays = DefaultSummaryDays
	}
	setDefault(&c.Mutations.PendingTimeout, DefaultPendingTimeout)

	if c.Session.Type == "encrypted_file" && c.BaseDir != "" {
		if c.Session.FilePath == "" {
			c.Session.FilePath = filepath.Join(c.BaseDir, "session.age")
		}
		if c.Session.Encryption.PublicKeyPath == "" {
			c.Session.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "keys", "session.pub")
		}
		if c.Session.Encryption.PrivateKeyPath == "" {
			c.Session.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "keys", "session.key")
		}
	}
}

func setDefault(d *Duration, v time.Duration) {
	if d.Duration <= 0 {
		d.Duration = v
	}
}

// Duration is a time.Duration written as a Go duration string ("3s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and fills in
// defaults for anything it leaves unset.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
