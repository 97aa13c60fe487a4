package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PolarWolf314/sbox/internal/configs"
	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	logger "github.com/PolarWolf314/sbox/internal/logging"
	"github.com/PolarWolf314/sbox/internal/sbox"
	"github.com/PolarWolf314/sbox/internal/secrets"
	"github.com/PolarWolf314/sbox/internal/storage"
	"github.com/PolarWolf314/sbox/internal/storage/blobstore"
	"github.com/PolarWolf314/sbox/internal/storage/sqlstore"
	"github.com/PolarWolf314/sbox/internal/utils"
)

// PromptFunc asks the user for a secret. label names what is asked for.
type PromptFunc func(label string) (string, error)

// Connection selects the configuration and the account a workflow runs as.
type Connection struct {
	// ConfigPath defaults to configs.SBoxSettings.ConfigPath.
	ConfigPath string

	// EnvFile is a dotenv file loaded before the environment is read.
	// Defaults to ".env" in the working directory.
	EnvFile string

	// Username overrides the configured username.
	Username string

	Logger logger.Logger

	// Prompt is used for passwords missing from the environment. Nil means
	// non-interactive.
	Prompt PromptFunc
}

type session struct {
	config *configs.Config
	creds  configs.Credentials
	log    logger.Logger
	prompt PromptFunc

	meta   *sqlstore.Store
	blobs  *blobstore.Store
	client *sbox.Client
	user   *sbox.User
}

// loadConfig resolves the effective configuration for conn: file, then
// dotenv, then environment, then the explicit username.
func loadConfig(conn Connection) (*configs.Config, configs.Credentials, string, error) {
	path := conn.ConfigPath
	if path == "" {
		path = configs.SBoxSettings.ConfigPath
	}
	envFile := conn.EnvFile
	if envFile == "" {
		envFile = ".env"
	}

	if err := configs.LoadEnvFile(envFile); err != nil {
		return nil, configs.Credentials{}, path, err
	}
	config, err := configs.Load(path, configs.SBoxSettings.DataDir, conn.Logger.Warnf)
	if err != nil {
		return nil, configs.Credentials{}, path, err
	}
	creds, err := config.ApplyEnv(os.Getenv)
	if err != nil {
		return nil, configs.Credentials{}, path, err
	}
	if conn.Username != "" {
		config.User.Username = conn.Username
	}
	if err := config.Validate(); err != nil {
		return nil, configs.Credentials{}, path, err
	}
	return config, creds, path, nil
}

// openSession connects to the configured backend without logging in.
func openSession(conn Connection) (*session, error) {
	config, creds, _, err := loadConfig(conn)
	if err != nil {
		return nil, err
	}

	if config.Backend.Driver == "sqlite" && isFileDSN(config.Backend.DSN) {
		if err := os.MkdirAll(filepath.Dir(sqliteFile(config.Backend.DSN)), 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	meta, err := sqlstore.Open(config.Backend.Driver, config.Backend.DSN, sqlstore.Options{Debug: conn.Logger.Debug})
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.Open(config.Backend.BlobPath)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	client := sbox.NewClient(storage.Join(meta, blobs), sbox.Options{
		ContextInfo: config.Crypto.ContextInfo,
		KDF: secrets.KDFParams{
			Time:      config.Crypto.KDFTime,
			MemoryKiB: config.Crypto.KDFMemoryKiB,
			Threads:   config.Crypto.KDFThreads,
		},
		PageSize:  config.Sync.PageSize,
		MaxPages:  config.Sync.MaxPages,
		ChunkSize: config.Files.ChunkSize,
	}, conn.Logger)

	conn.Logger.Debugf("Connected to %s backend", config.Backend.Driver)
	return &session{
		config: config,
		creds:  creds,
		log:    conn.Logger,
		prompt: conn.Prompt,
		meta:   meta,
		blobs:  blobs,
		client: client,
	}, nil
}

// openUserSession connects and logs in as the configured user.
func openUserSession(ctx context.Context, conn Connection) (*session, error) {
	s, err := openSession(conn)
	if err != nil {
		return nil, err
	}
	if err := s.login(ctx); err != nil {
		s.close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *session) username() (string, error) {
	name := s.config.User.Username
	if !utils.IsValidUsername(name) {
		return "", fmt.Errorf("%w: %q (set [user] username or --user)", kerrors.ErrInvalidUsername, name)
	}
	return name, nil
}

func (s *session) login(ctx context.Context) error {
	username, err := s.username()
	if err != nil {
		return err
	}
	password, err := s.secret(s.creds.Password, "account password")
	if err != nil {
		return err
	}
	e2e, err := s.secret(s.creds.E2EPassword, "encryption password")
	if err != nil {
		return err
	}

	user, err := s.client.Login(ctx, username, password, e2e)
	if err != nil {
		return err
	}
	s.user = user
	return nil
}

// secret returns value, or prompts for label when value is empty.
func (s *session) secret(value, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	if s.prompt == nil {
		return "", fmt.Errorf("%w: %s (set %s)", kerrors.ErrPasswordRequired, label, envFor(label))
	}
	v, err := s.prompt(label)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s", kerrors.ErrPasswordRequired, label)
	}
	return v, nil
}

func envFor(label string) string {
	if strings.HasPrefix(label, "encryption") {
		return configs.EnvE2EPassword
	}
	return configs.EnvPassword
}

func (s *session) close(ctx context.Context) {
	if s.user != nil {
		if err := s.user.Logout(ctx); err != nil && !errors.Is(err, kerrors.ErrNotLoggedIn) {
			s.log.Warnf("Logging out: %v", err)
		}
	}
	if err := s.blobs.Close(); err != nil {
		s.log.Warnf("Closing blob store: %v", err)
	}
	if err := s.meta.Close(); err != nil {
		s.log.Warnf("Closing backend: %v", err)
	}
}

// box resolves ref to an SBox the user is linked to, by id or by name.
func (s *session) box(ctx context.Context, ref string) (*sbox.SBox, error) {
	ids, err := s.user.SyncSBoxes(ctx)
	if err != nil {
		return nil, err
	}

	var matches []*sbox.SBox
	for _, id := range ids {
		if id == ref {
			return s.user.GetSBox(ctx, id)
		}
	}
	for _, id := range ids {
		sb, err := s.user.GetSBox(ctx, id)
		if errors.Is(err, kerrors.ErrSBoxNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sb.Name == ref {
			matches = append(matches, sb)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", kerrors.ErrSBoxNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: name %q matches %d sboxes, use an id", kerrors.ErrSBoxNotFound, ref, len(matches))
	}
}

func isFileDSN(dsn string) bool {
	return dsn != "" && !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory")
}

func sqliteFile(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}
