package configs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

func TestDefaultIsValid(t *testing.T) {
	dataDir := t.TempDir()
	config := Default(dataDir)

	if err := config.Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
	if config.Backend.DSN != filepath.Join(dataDir, "sbox.db") {
		t.Errorf("Expected DSN under data dir, got %q", config.Backend.DSN)
	}
	if config.Sync.PageSize != 50 {
		t.Errorf("Expected page size 50, got %d", config.Sync.PageSize)
	}
	if config.Files.ChunkSize != 256*1024 {
		t.Errorf("Expected chunk size 256KiB, got %d", config.Files.ChunkSize)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sbox", "config.toml")

	config := Default(dir)
	config.Backend.Driver = "mysql"
	config.Backend.DSN = "sbox:pw@tcp(localhost:3306)/sbox?parseTime=true"
	config.Sync.PageSize = 20
	config.User.Username = "alice"

	if err := Save(path, config); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %o", info.Mode().Perm())
	}

	loaded, err := Load(path, dir, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *loaded != *config {
		t.Errorf("Loaded config differs:\n got %+v\nwant %+v", *loaded, *config)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	config, err := Load(filepath.Join(dir, "nope.toml"), dir, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *config != *Default(dir) {
		t.Errorf("Expected defaults, got %+v", *config)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `[sync]
page_size = 10

[user]
username = "bob"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := Load(path, dir, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Sync.PageSize != 10 {
		t.Errorf("Expected page size 10, got %d", config.Sync.PageSize)
	}
	if config.Sync.MaxPages != 10000 {
		t.Errorf("Expected default max pages, got %d", config.Sync.MaxPages)
	}
	if config.User.Username != "bob" {
		t.Errorf("Expected username bob, got %q", config.User.Username)
	}
}

func TestLoadMalformedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[backend\ndriver = \"sqlite\"\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, err := Load(path, dir, nil)
	if !errors.Is(err, kerrors.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}

	// Fixing the file recovers.
	if err := os.WriteFile(path, []byte("[backend]\ndriver = \"sqlite\"\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path, dir, nil); err != nil {
		t.Fatalf("Load failed after fix: %v", err)
	}
}

func TestLoadWarnsOnUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[backend]\nhost = \"x\"\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	var warnings []string
	_, err := Load(path, dir, func(format string, args ...interface{}) {
		warnings = append(warnings, format)
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(warnings))
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDriver:      "mysql",
		EnvDSN:         "user:pw@/db",
		EnvBlobPath:    "/tmp/blobs",
		EnvUsername:    "carol",
		EnvPageSize:    "7",
		EnvPassword:    "account-pw",
		EnvE2EPassword: "e2e-pw",
	}
	config := Default(t.TempDir())

	creds, err := config.ApplyEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if config.Backend.Driver != "mysql" || config.Backend.DSN != "user:pw@/db" || config.Backend.BlobPath != "/tmp/blobs" {
		t.Errorf("Backend not overridden: %+v", config.Backend)
	}
	if config.User.Username != "carol" {
		t.Errorf("Expected username carol, got %q", config.User.Username)
	}
	if config.Sync.PageSize != 7 {
		t.Errorf("Expected page size 7, got %d", config.Sync.PageSize)
	}
	if creds.Password != "account-pw" || creds.E2EPassword != "e2e-pw" {
		t.Errorf("Unexpected credentials %+v", creds)
	}
}

func TestApplyEnvBadPageSize(t *testing.T) {
	config := Default(t.TempDir())
	_, err := config.ApplyEnv(func(k string) string {
		if k == EnvPageSize {
			return "many"
		}
		return ""
	})
	if !errors.Is(err, kerrors.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SBOX_USERNAME=dave\nSBOX_DSN=from-file\n"), 0600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}

	t.Setenv(EnvUsername, "")
	os.Unsetenv(EnvUsername)
	t.Setenv(EnvDSN, "already-set")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}
	if got := os.Getenv(EnvUsername); got != "dave" {
		t.Errorf("Expected SBOX_USERNAME=dave, got %q", got)
	}
	if got := os.Getenv(EnvDSN); got != "already-set" {
		t.Errorf("Existing variable overridden: %q", got)
	}

	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("Missing .env should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"UnknownDriver", func(c *Config) { c.Backend.Driver = "postgres" }, "driver"},
		{"EmptyDSN", func(c *Config) { c.Backend.DSN = "" }, "dsn"},
		{"EmptyContextInfo", func(c *Config) { c.Crypto.ContextInfo = "" }, "context_info"},
		{"ZeroPageSize", func(c *Config) { c.Sync.PageSize = 0 }, "page_size"},
		{"NegativeMaxPages", func(c *Config) { c.Sync.MaxPages = -1 }, "max_pages"},
		{"ZeroChunkSize", func(c *Config) { c.Files.ChunkSize = 0 }, "chunk_size"},
		{"HugeChunkSize", func(c *Config) { c.Files.ChunkSize = MaxChunkSize + 1 }, "chunk_size"},
		{"ZeroKDFThreads", func(c *Config) { c.Crypto.KDFThreads = 0 }, "kdf"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := Default(t.TempDir())
			tc.mutate(config)
			err := config.Validate()
			if !errors.Is(err, kerrors.ErrInvalidConfig) {
				t.Fatalf("Expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Errorf("Expected error to mention %q, got %v", tc.field, err)
			}
		})
	}
}

func TestSetDataDir(t *testing.T) {
	s := &Settings{}
	s.SetDataDir("/data/sbox")
	if s.AuditPath != filepath.Join("/data/sbox", "audit.jsonl") {
		t.Errorf("Unexpected audit path %q", s.AuditPath)
	}
}
