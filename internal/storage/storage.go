package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Document is a JSON document stored in a collection.
//
// Index holds the flat string fields the backend can filter on with
// Query.Equals. Content is opaque to the backend.
type Document struct {
	ID           string
	CollectionID string
	Index        map[string]string
	Timestamp    time.Time
	Content      json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Query filters a Search.
type Query struct {
	// Equals keeps documents whose index field equals the given value, for
	// every entry.
	Equals map[string]string

	// Since keeps documents whose Timestamp is at or after it. Zero disables it.
	Since time.Time

	Offset int
	Limit  int
}

// Page is one slice of a Search result. Items are ordered by Timestamp, then ID.
type Page struct {
	Count      int
	Offset     int
	Limit      int
	TotalCount int
	Items      []Document
}

// Collection is a named container of documents.
type Collection struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Group is an access group. Members are user ids.
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Action is a permission verb.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Permission grants Actions on ResourceID to SubjectID (a user or group id).
type Permission struct {
	ID         string
	ResourceID string
	SubjectID  string
	Actions    []Action
}

// User is a backend account. Attributes carry opaque client data such as the
// wrapped private key.
type User struct {
	ID         string
	Username   string
	Attributes map[string]string
	CreatedAt  time.Time
}

// Session is an authenticated backend session.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Collections manages collections.
type Collections interface {
	CreateCollection(ctx context.Context, name string) (*Collection, error)
	// EnsureCollection returns the collection named name, creating it if needed.
	EnsureCollection(ctx context.Context, name string) (*Collection, error)
	// DeleteCollection deletes the collection and every document in it.
	DeleteCollection(ctx context.Context, id string) error
}

// Documents manages documents within collections.
type Documents interface {
	CreateDocument(ctx context.Context, doc *Document) (*Document, error)
	GetDocument(ctx context.Context, collectionID, id string) (*Document, error)
	UpdateDocument(ctx context.Context, doc *Document) (*Document, error)
	DeleteDocument(ctx context.Context, collectionID, id string) error
	Search(ctx context.Context, collectionID string, q Query) (*Page, error)
}

// Groups manages access groups and their members.
type Groups interface {
	CreateGroup(ctx context.Context, name string) (*Group, error)
	DeleteGroup(ctx context.Context, id string) error
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	ListMembers(ctx context.Context, groupID string) ([]string, error)
}

// Permissions records grants. Enforcement is the backend's concern.
type Permissions interface {
	GrantPermission(ctx context.Context, p Permission) (*Permission, error)
	RevokePermission(ctx context.Context, id string) error
	ListPermissions(ctx context.Context, resourceID string) ([]Permission, error)
}

// Blobs stores binary objects uploaded in chunks.
type Blobs interface {
	// CreateUpload reserves an upload of size bytes and returns its id.
	CreateUpload(ctx context.Context, size int64) (string, error)
	UploadChunk(ctx context.Context, uploadID string, offset int64, data []byte) error
	// CommitUpload assembles the chunks and returns the blob id. It fails with
	// ErrUploadIncomplete if any byte is missing.
	CommitUpload(ctx context.Context, uploadID string) (string, error)
	DownloadBlob(ctx context.Context, blobID string) ([]byte, error)
	DeleteBlob(ctx context.Context, blobID string) error
}

// Users manages accounts and sessions.
type Users interface {
	CreateUser(ctx context.Context, username, password string, attrs map[string]string) (*User, error)
	Authenticate(ctx context.Context, username, password string) (*Session, error)
	RefreshSession(ctx context.Context, token string) (*Session, error)
	EndSession(ctx context.Context, token string) error
	GetUser(ctx context.Context, id string) (*User, error)
	// FindUsers returns every user whose username matches exactly.
	FindUsers(ctx context.Context, username string) ([]User, error)
	UpdateUserAttributes(ctx context.Context, id string, attrs map[string]string) (*User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Metadata is everything except blob storage.
type Metadata interface {
	Collections
	Documents
	Groups
	Permissions
	Users
}

// Backend is the full storage collaborator.
type Backend interface {
	Metadata
	Blobs
}

type joined struct {
	Metadata
	Blobs
}

// Join composes a metadata store and a blob store into a Backend.
func Join(meta Metadata, blobs Blobs) Backend {
	return joined{Metadata: meta, Blobs: blobs}
}
