package sqlstore

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/storage"

	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
)

const (
	passwordSaltSize = 16
	passwordHashSize = 32
)

// CreateUser registers a new account. Usernames are unique.
func (s *Store) CreateUser(ctx context.Context, username, password string, attrs map[string]string) (*storage.User, error) {
	if username == "" {
		return nil, kerrors.ErrInvalidUsername
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password cannot be empty", kerrors.ErrCredential)
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, passwordSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating password salt: %w", err)
	}

	model := &userModel{
		ID:           newID(),
		Username:     username,
		PasswordSalt: salt,
		PasswordHash: s.hashPassword(password, salt),
		Attributes:   string(encoded),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", kerrors.ErrUsernameTaken, username)
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return nil, err
	}
	return model.toStorage()
}

// Authenticate verifies the password and opens a new session.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*storage.Session, error) {
	var user userModel
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kerrors.ErrUnauthorized
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare(s.hashPassword(password, user.PasswordSalt), user.PasswordHash) != 1 {
		return nil, kerrors.ErrUnauthorized
	}

	session := &sessionModel{
		Token:     newID(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.opts.SessionTTL),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session.toStorage(), nil
}

// RefreshSession extends a live session. Expired sessions are removed.
func (s *Store) RefreshSession(ctx context.Context, token string) (*storage.Session, error) {
	var session sessionModel
	expired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("token = ?", token).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return kerrors.ErrUnauthorized
			}
			return err
		}
		if !s.now().Before(session.ExpiresAt) {
			expired = true
			return tx.Delete(&session).Error
		}
		session.ExpiresAt = s.now().Add(s.opts.SessionTTL)
		return tx.Save(&session).Error
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, kerrors.ErrSessionExpired
	}
	return session.toStorage(), nil
}

// EndSession deletes the session. Ending an unknown session is a no-op.
func (s *Store) EndSession(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&sessionModel{}).Error
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("user", id)
		}
		return nil, err
	}
	return model.toStorage()
}

// FindUsers returns the users whose username is exactly username.
func (s *Store) FindUsers(ctx context.Context, username string) ([]storage.User, error) {
	var models []userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("finding users: %w", err)
	}
	out := make([]storage.User, 0, len(models))
	for i := range models {
		u, err := models[i].toStorage()
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

// UpdateUserAttributes merges attrs into the user's attributes. An empty
// value removes the attribute.
func (s *Store) UpdateUserAttributes(ctx context.Context, id string, attrs map[string]string) (*storage.User, error) {
	var out *storage.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model userModel
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("user", id)
			}
			return err
		}

		current, err := model.toStorage()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			if v == "" {
				delete(current.Attributes, k)
				continue
			}
			current.Attributes[k] = v
		}
		encoded, err := json.Marshal(current.Attributes)
		if err != nil {
			return err
		}
		if err := tx.Model(&model).Update("attributes", string(encoded)).Error; err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteUser removes the account, its sessions, and its group memberships.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&userModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("user", id)
		}
		if err := tx.Where("user_id = ?", id).Delete(&sessionModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&memberModel{}).Error; err != nil {
			return err
		}
		return tx.Where("subject_id = ?", id).Delete(&permissionModel{}).Error
	})
}

func (s *Store) hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, s.opts.PasswordTime, s.opts.PasswordMemoryKiB, 1, passwordHashSize)
}
