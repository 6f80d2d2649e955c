package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.SnapshotPath == "" {
		cfg.Storage.SnapshotPath = "/usr/local/var/vecindex/data/snapshot.json"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/vecindex/data/vectors.db"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite3"
	}
	if cfg.Index.NormEpsilon == 0 {
		cfg.Index.NormEpsilon = 1e-3
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.Parallelism == 0 {
		cfg.Search.Parallelism = runtime.GOMAXPROCS(0)
	}
	if cfg.Inbox.DebounceMs == 0 {
		cfg.Inbox.DebounceMs = 400
	}
}

// ApplyEnv overrides cfg with VECINDEX_* environment variables that are set.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"VECINDEX_HOST":            &cfg.Server.Host,
		"VECINDEX_STORAGE_BACKEND": &cfg.Storage.Backend,
		"VECINDEX_SNAPSHOT_PATH":   &cfg.Storage.SnapshotPath,
		"VECINDEX_DATABASE_PATH":   &cfg.Storage.DatabasePath,
		"VECINDEX_DSN":             &cfg.Storage.DSN,
		"VECINDEX_INBOX_DIR":       &cfg.Inbox.Directory,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("VECINDEX_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VECINDEX_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv("VECINDEX_DEBUG"); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid VECINDEX_DEBUG %q: %w", v, err)
		}
		cfg.Debug = debug
	}
	return nil
}
