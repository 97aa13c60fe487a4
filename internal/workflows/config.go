package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/PolarWolf314/sbox/internal/configs"
	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/utils"
)

// ConfigInitOptions configures the config init workflow.
type ConfigInitOptions struct {
	// Path defaults to configs.SBoxSettings.ConfigPath.
	Path string

	// Username, Driver, DSN and BlobPath override the defaults when set.
	Username string
	Driver   string
	DSN      string
	BlobPath string

	// Force overwrites an existing file.
	Force bool
}

// ConfigInitResult contains the outcome of config init.
type ConfigInitResult struct {
	Path   string
	Config *configs.Config

	// Overwritten is true when an existing file was replaced.
	Overwritten bool
}

// ConfigInit writes a config file with defaults and the given overrides.
//
// Returns ErrConfigExists if the file exists and Force is not set.
// Returns ErrInvalidUsername or ErrInvalidConfig for bad overrides.
func ConfigInit(ctx context.Context, opts ConfigInitOptions) (*ConfigInitResult, error) {
	path := opts.Path
	if path == "" {
		path = configs.SBoxSettings.ConfigPath
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !opts.Force {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrConfigExists, path)
	}
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("checking %s: %w", path, statErr)
	}

	config := configs.Default(configs.SBoxSettings.DataDir)
	if opts.Username != "" {
		config.User.Username = opts.Username
	}
	if opts.Driver != "" {
		config.Backend.Driver = opts.Driver
	}
	if opts.DSN != "" {
		config.Backend.DSN = opts.DSN
	}
	if opts.BlobPath != "" {
		config.Backend.BlobPath = opts.BlobPath
	}

	if config.User.Username != "" && !utils.IsValidUsername(config.User.Username) {
		return nil, fmt.Errorf("%w: %q", kerrors.ErrInvalidUsername, config.User.Username)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := configs.Save(path, config); err != nil {
		return nil, err
	}

	return &ConfigInitResult{Path: path, Config: config, Overwritten: exists}, nil
}

// ConfigShowResult contains the effective configuration.
type ConfigShowResult struct {
	Path string

	// FileExists is false when only defaults and environment apply.
	FileExists bool
	Config     *configs.Config

	// PasswordFromEnv and E2EPasswordFromEnv report whether the passwords
	// are available without prompting. The values are never returned.
	PasswordFromEnv    bool
	E2EPasswordFromEnv bool
}

// ConfigShow resolves the configuration exactly as other workflows do.
func ConfigShow(ctx context.Context, conn Connection) (*ConfigShowResult, error) {
	config, creds, path, err := loadConfig(conn)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(path)

	return &ConfigShowResult{
		Path:               path,
		FileExists:         statErr == nil,
		Config:             config,
		PasswordFromEnv:    creds.Password != "",
		E2EPasswordFromEnv: creds.E2EPassword != "",
	}, nil
}
