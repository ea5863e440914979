// Package config reads and writes the Store's TOML configuration: the
// data directory root, lock lease/renewal timings, the filename
// encryption security level, and the index cache's settings.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"clinistore/internal/lockmgr"
)

// Config is the Store's on-disk configuration.
type Config struct {
	DataDir string `toml:"data_dir"`
	TmpDir  string `toml:"tmp_dir"`
	LogDir  string `toml:"log_dir"`

	Lock       LockConfig       `toml:"lock"`
	IndexCache IndexCacheConfig `toml:"index_cache"`

	// WeakKeySecurityLevel records the filename encryption security
	// level. The collection engine does not read it: every filename is
	// encrypted with the engine's own fixed level 5, so changing this
	// value has no effect on the names written or read.
	WeakKeySecurityLevel int `toml:"weak_key_security_level"`
}

// LockConfig holds the advisory lock manager's timing parameters.
type LockConfig struct {
	LeaseSeconds   int `toml:"lease_seconds"`
	RenewalSeconds int `toml:"renewal_seconds"`
	PollSeconds    int `toml:"poll_seconds"`
}

func (c LockConfig) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

func (c LockConfig) RenewalDuration() time.Duration {
	return time.Duration(c.RenewalSeconds) * time.Second
}

func (c LockConfig) PollDuration() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// IndexCacheConfig holds the non-authoritative list-cache's settings.
type IndexCacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // SQLite file path, or ":memory:"
}

// NewConfig creates a Config rooted at dataDir with the Store's
// recommended defaults.
func NewConfig(dataDir string) *Config {
	return &Config{
		DataDir: dataDir,
		TmpDir:  filepath.Join(dataDir, "_tmp"),
		LogDir:  filepath.Join(dataDir, "_log"),
		Lock: LockConfig{
			LeaseSeconds:   int(lockmgr.DefaultLeaseTime / time.Second),
			RenewalSeconds: int(lockmgr.DefaultLeaseRenewalInterval / time.Second),
			PollSeconds:    int(lockmgr.DefaultAcquirePollInterval / time.Second),
		},
		IndexCache: IndexCacheConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "_index-cache.db"),
		},
		WeakKeySecurityLevel: 5,
	}
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

// ReadFromFile reads a Config from the specified file path.
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
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
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

// Init initializes a new config file at the specified path with the
// provided Config. Fails if a config file already exists there.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
