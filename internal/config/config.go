// Package config provides configuration loading and structs for the vecindex server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Inbox   InboxConfig   `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Backend      string `yaml:"backend"`       // file, sqlite or postgres
	SnapshotPath string `yaml:"snapshot_path"` // file backend
	DatabasePath string `yaml:"database_path"` // sqlite backend
	Driver       string `yaml:"driver"`        // sqlite3 (cgo) or sqlite (pure Go)
	DSN          string `yaml:"dsn"`           // postgres backend
}

// IndexConfig holds index settings.
type IndexConfig struct {
	// NormEpsilon is the tolerated deviation of a vector's L2 norm from 1 before a
	// non-unit warning is raised.
	NormEpsilon float64 `yaml:"norm_epsilon"`
}

// SearchConfig holds search defaults and limits.
type SearchConfig struct {
	DefaultTopK      int     `yaml:"default_top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	DefaultThreshold float64 `yaml:"default_threshold"`
	Parallelism      int     `yaml:"parallelism"`
}

// InboxConfig holds batch inbox settings. An empty Directory disables the inbox.
type InboxConfig struct {
	Directory  string `yaml:"directory"`
	DebounceMs int    `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path, applies a .env file next to it and
// VECINDEX_* environment overrides, applies defaults and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	expandPaths(&cfg, configDir)

	return &cfg, nil
}

// FromEnv builds a config from defaults and the environment only, for running without
// a config file.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	expandPaths(&cfg, wd)
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks settings that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.Driver != "sqlite3" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search.max_top_k (%d) is below search.default_top_k (%d)", c.Search.MaxTopK, c.Search.DefaultTopK)
	}
	if c.Index.NormEpsilon < 0 {
		return fmt.Errorf("index.norm_epsilon cannot be negative")
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.SnapshotPath = expandPath(cfg.Storage.SnapshotPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Inbox.Directory != "" {
		cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
