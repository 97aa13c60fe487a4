package sqlstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PolarWolf314/sbox/internal/storage"
)

type collectionModel struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Name      string    `gorm:"type:varchar(191);not null;index:idx_collection_name"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (collectionModel) TableName() string { return "collections" }

func (m *collectionModel) toStorage() *storage.Collection {
	return &storage.Collection{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}
}

// documentModel keeps the logical timestamp as unix milliseconds so range
// filters and ordering behave the same on every driver.
type documentModel struct {
	ID              string    `gorm:"type:char(36);primaryKey"`
	CollectionID    string    `gorm:"type:char(36);not null;index:idx_document_collection_ts,priority:1"`
	TimestampMillis int64     `gorm:"not null;index:idx_document_collection_ts,priority:2"`
	Content         string    `gorm:"type:text;not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (documentModel) TableName() string { return "documents" }

func (m *documentModel) toStorage(index map[string]string) storage.Document {
	if index == nil {
		index = map[string]string{}
	}
	return storage.Document{
		ID:           m.ID,
		CollectionID: m.CollectionID,
		Index:        index,
		Timestamp:    time.UnixMilli(m.TimestampMillis).UTC(),
		Content:      json.RawMessage(m.Content),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

type documentIndexModel struct {
	DocumentID   string `gorm:"type:char(36);primaryKey"`
	Field        string `gorm:"type:varchar(64);primaryKey;index:idx_index_lookup,priority:2"`
	CollectionID string `gorm:"type:char(36);not null;index:idx_index_lookup,priority:1"`
	Value        string `gorm:"type:varchar(191);not null;index:idx_index_lookup,priority:3"`
}

func (documentIndexModel) TableName() string { return "document_indexes" }

type groupModel struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Name      string    `gorm:"type:varchar(191);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (groupModel) TableName() string { return "access_groups" }

type memberModel struct {
	GroupID   string    `gorm:"type:char(36);primaryKey"`
	UserID    string    `gorm:"type:char(36);primaryKey;index:idx_member_user"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (memberModel) TableName() string { return "group_members" }

type permissionModel struct {
	ID         string `gorm:"type:char(36);primaryKey"`
	ResourceID string `gorm:"type:char(36);not null;index:idx_permission_resource"`
	SubjectID  string `gorm:"type:char(36);not null;index:idx_permission_subject"`
	Actions    string `gorm:"type:varchar(191);not null"`
}

func (permissionModel) TableName() string { return "permissions" }

func (m *permissionModel) toStorage() storage.Permission {
	var actions []storage.Action
	for _, a := range strings.Split(m.Actions, ",") {
		if a != "" {
			actions = append(actions, storage.Action(a))
		}
	}
	return storage.Permission{ID: m.ID, ResourceID: m.ResourceID, SubjectID: m.SubjectID, Actions: actions}
}

type userModel struct {
	ID           string    `gorm:"type:char(36);primaryKey"`
	Username     string    `gorm:"type:varchar(191);not null;uniqueIndex:uk_username"`
	PasswordHash []byte    `gorm:"type:blob;not null"`
	PasswordSalt []byte    `gorm:"type:blob;not null"`
	Attributes   string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (userModel) TableName() string { return "users" }

func (m *userModel) toStorage() (*storage.User, error) {
	attrs := map[string]string{}
	if m.Attributes != "" {
		if err := json.Unmarshal([]byte(m.Attributes), &attrs); err != nil {
			return nil, err
		}
	}
	return &storage.User{ID: m.ID, Username: m.Username, Attributes: attrs, CreatedAt: m.CreatedAt}, nil
}

type sessionModel struct {
	Token     string    `gorm:"type:char(36);primaryKey"`
	UserID    string    `gorm:"type:char(36);not null;index:idx_session_user"`
	ExpiresAt time.Time `gorm:"not null"`
}

func (sessionModel) TableName() string { return "sessions" }

func (m *sessionModel) toStorage() *storage.Session {
	return &storage.Session{Token: m.Token, UserID: m.UserID, ExpiresAt: m.ExpiresAt}
}
