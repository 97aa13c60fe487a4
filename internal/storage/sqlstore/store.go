// Package sqlstore implements the storage metadata surface on top of gorm.
//
// Both sqlite and mysql are supported. Document index fields live in their
// own table so exact-match search works without JSON functions.
package sqlstore

import (
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/google/uuid"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DefaultPageLimit applies when a query does not set a limit.
	DefaultPageLimit = 50

	// MaxPageLimit caps the limit of a single page.
	MaxPageLimit = 1000

	// DefaultSessionTTL is the lifetime of a session before it must be refreshed.
	DefaultSessionTTL = 24 * time.Hour
)

// Options tunes a Store.
type Options struct {
	// Debug turns on gorm's SQL logging.
	Debug bool

	// SessionTTL defaults to DefaultSessionTTL.
	SessionTTL time.Duration

	// PasswordTime and PasswordMemoryKiB tune the Argon2id hash of account
	// passwords. Zero values use 1 pass and 64 MiB.
	PasswordTime      uint32
	PasswordMemoryKiB uint32
}

// Store is a gorm-backed storage.Metadata.
type Store struct {
	db   *gorm.DB
	opts Options
	now  func() time.Time
}

// Open connects to driver ("sqlite" or "mysql") at dsn and migrates the schema.
func Open(driver, dsn string, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported backend driver %q", kerrors.ErrInvalidConfig, driver)
	}

	level := logger.Silent
	if opts.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "mysql" {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		// sqlite allows a single writer, and ":memory:" databases are per connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	return New(db, opts)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, opts Options) (*Store, error) {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.PasswordTime == 0 {
		opts.PasswordTime = 1
	}
	if opts.PasswordMemoryKiB == 0 {
		opts.PasswordMemoryKiB = 64 * 1024
	}

	err := db.AutoMigrate(
		&collectionModel{},
		&documentModel{},
		&documentIndexModel{},
		&groupModel{},
		&memberModel{},
		&permissionModel{},
		&userModel{},
		&sessionModel{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db, opts: opts, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newID() string {
	return uuid.New().String()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, kerrors.ErrNotFound)
}
