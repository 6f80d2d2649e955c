package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  backend: sqlite
  database_path: "test.db"
search:
  default_top_k: 3
  max_top_k: 50
  default_threshold: 0.25
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.Driver != "sqlite3" {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Search.DefaultTopK != 3 || cfg.Search.MaxTopK != 50 || cfg.Search.DefaultThreshold != 0.25 {
		t.Errorf("unexpected search config: %+v", cfg.Search)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected read error for missing file")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  snapshot_path: "./data/snapshot.json"
  database_path: "./data/vectors.db"
inbox:
  directory: "./inbox"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "snapshot.json"); cfg.Storage.SnapshotPath != want {
		t.Errorf("snapshot_path = %s, want %s", cfg.Storage.SnapshotPath, want)
	}
	if want := filepath.Join(dir, "data", "vectors.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "inbox"); cfg.Inbox.Directory != want {
		t.Errorf("inbox directory = %s, want %s", cfg.Inbox.Directory, want)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VECINDEX_PORT", "9100")
	t.Setenv("VECINDEX_STORAGE_BACKEND", "postgres")
	t.Setenv("VECINDEX_DSN", "postgres://localhost/vec")
	t.Setenv("VECINDEX_DEBUG", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.DSN != "postgres://localhost/vec" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !cfg.Debug {
		t.Error("VECINDEX_DEBUG should enable debug")
	}
}

func TestLoad_invalidEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("debug: false\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VECINDEX_PORT", "not-a-port")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid VECINDEX_PORT")
	}
}

func TestLoad_dotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("debug: false\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("VECINDEX_HOST=0.0.0.0\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("VECINDEX_HOST") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %s, want 0.0.0.0 from .env", cfg.Server.Host)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("default backend: got %s", cfg.Storage.Backend)
	}
	if cfg.Search.DefaultTopK != 5 || cfg.Search.MaxTopK != 100 {
		t.Errorf("default search limits: %+v", cfg.Search)
	}
	if cfg.Search.DefaultThreshold != 0 {
		t.Errorf("default threshold: got %f", cfg.Search.DefaultThreshold)
	}
	if cfg.Search.Parallelism != runtime.GOMAXPROCS(0) {
		t.Errorf("default parallelism: got %d", cfg.Search.Parallelism)
	}
	if cfg.Index.NormEpsilon != 1e-3 {
		t.Errorf("default norm_epsilon: got %g", cfg.Index.NormEpsilon)
	}
	if cfg.Inbox.DebounceMs != 400 || cfg.Inbox.Directory != "" {
		t.Errorf("default inbox: %+v", cfg.Inbox)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		ApplyDefaults(cfg)
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"unknown sqlite driver", func(c *Config) { c.Storage.Backend = BackendSQLite; c.Storage.Driver = "duckdb" }},
		{"max below default", func(c *Config) { c.Search.MaxTopK = 2; c.Search.DefaultTopK = 3 }},
		{"negative epsilon", func(c *Config) { c.Index.NormEpsilon = -1 }},
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{Backend: BackendFile, SnapshotPath: "/tmp/snapshot.json"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Storage.SnapshotPath != "/tmp/snapshot.json" {
		t.Errorf("loaded snapshot_path: got %s", loaded.Storage.SnapshotPath)
	}
}
