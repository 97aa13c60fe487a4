package configs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/utils"
)

// Environment variables that override the config file.
const (
	EnvDriver      = "SBOX_DRIVER"
	EnvDSN         = "SBOX_DSN"
	EnvBlobPath    = "SBOX_BLOB_PATH"
	EnvUsername    = "SBOX_USERNAME"
	EnvPassword    = "SBOX_PASSWORD"
	EnvE2EPassword = "SBOX_E2E_PASSWORD"
	EnvPageSize    = "SBOX_PAGE_SIZE"
)

// Config is the contents of config.toml.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Crypto  CryptoConfig  `toml:"crypto"`
	Sync    SyncConfig    `toml:"sync"`
	Files   FilesConfig   `toml:"files"`
	User    UserConfig    `toml:"user"`
}

type BackendConfig struct {
	// Driver is "sqlite" or "mysql".
	Driver   string `toml:"driver"`
	DSN      string `toml:"dsn"`
	BlobPath string `toml:"blob_path"`
}

type CryptoConfig struct {
	// ContextInfo is bound into every identity key. Changing it locks out
	// existing accounts.
	ContextInfo  string `toml:"context_info"`
	KDFTime      uint32 `toml:"kdf_time"`
	KDFMemoryKiB uint32 `toml:"kdf_memory_kib"`
	KDFThreads   uint8  `toml:"kdf_threads"`
}

type SyncConfig struct {
	PageSize int `toml:"page_size"`
	MaxPages int `toml:"max_pages"`
}

type FilesConfig struct {
	ChunkSize int `toml:"chunk_size"`
}

type UserConfig struct {
	Username string `toml:"username"`
}

// Credentials are secrets taken from the environment only. They are never
// written to config.toml.
type Credentials struct {
	Password    string
	E2EPassword string
}

// MaxChunkSize bounds [files] chunk_size. Each chunk is one blob store value.
const MaxChunkSize = 16 << 20

// Default returns the configuration used when no file exists.
func Default(dataDir string) *Config {
	return &Config{
		Backend: BackendConfig{
			Driver:   "sqlite",
			DSN:      filepath.Join(dataDir, "sbox.db"),
			BlobPath: filepath.Join(dataDir, "blobs"),
		},
		Crypto: CryptoConfig{
			ContextInfo:  "sbox-identity-v1",
			KDFTime:      1,
			KDFMemoryKiB: 64 * 1024,
			KDFThreads:   4,
		},
		Sync: SyncConfig{
			PageSize: 50,
			MaxPages: 10000,
		},
		Files: FilesConfig{
			ChunkSize: 256 * 1024,
		},
		User: UserConfig{
			Username: utils.DefaultUsername(),
		},
	}
}

// Load reads the config file at path on top of the defaults. A missing file
// yields the defaults. Unknown keys are reported through warn.
func Load(path, dataDir string, warn func(format string, args ...interface{})) (*Config, error) {
	config := Default(dataDir)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config, nil
	}

	unknown, err := LoadTOML(path, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", kerrors.ErrInvalidConfig, path, err)
	}
	if warn != nil {
		for _, key := range unknown {
			warn("Ignoring unknown config key %q in %s", key, path)
		}
	}

	return config, nil
}

// Save writes config to path.
func Save(path string, config *Config) error {
	if err := SaveTOML(path, config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: loading %s: %v", kerrors.ErrInvalidConfig, path, err)
	}
	return nil
}

// ApplyEnv overrides config fields from the environment and returns the
// credentials found there. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) (Credentials, error) {
	if v := getenv(EnvDriver); v != "" {
		c.Backend.Driver = v
	}
	if v := getenv(EnvDSN); v != "" {
		c.Backend.DSN = v
	}
	if v := getenv(EnvBlobPath); v != "" {
		c.Backend.BlobPath = v
	}
	if v := getenv(EnvUsername); v != "" {
		c.User.Username = v
	}
	if v := getenv(EnvPageSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: %s=%q is not a number", kerrors.ErrInvalidConfig, EnvPageSize, v)
		}
		c.Sync.PageSize = n
	}

	return Credentials{
		Password:    getenv(EnvPassword),
		E2EPassword: getenv(EnvE2EPassword),
	}, nil
}

// Validate checks the values a client cannot run without.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("%w: unsupported backend driver %q", kerrors.ErrInvalidConfig, c.Backend.Driver)
	}
	if c.Backend.DSN == "" {
		return fmt.Errorf("%w: backend dsn is empty", kerrors.ErrInvalidConfig)
	}
	if c.Crypto.ContextInfo == "" {
		return fmt.Errorf("%w: crypto context_info is empty", kerrors.ErrInvalidConfig)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("%w: sync page_size must be positive", kerrors.ErrInvalidConfig)
	}
	if c.Sync.MaxPages <= 0 {
		return fmt.Errorf("%w: sync max_pages must be positive", kerrors.ErrInvalidConfig)
	}
	if c.Files.ChunkSize <= 0 || c.Files.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: files chunk_size must be between 1 and %d", kerrors.ErrInvalidConfig, MaxChunkSize)
	}
	if c.Crypto.KDFTime == 0 || c.Crypto.KDFMemoryKiB == 0 || c.Crypto.KDFThreads == 0 {
		return fmt.Errorf("%w: crypto kdf parameters must be positive", kerrors.ErrInvalidConfig)
	}
	return nil
}
