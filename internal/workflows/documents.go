package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PolarWolf314/sbox/internal/audit"
	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/sbox"
)

// InsertResult identifies a stored document.
type InsertResult struct {
	BoxID      string
	DocumentID string
}

// Insert encrypts a JSON document into an SBox. additionalData, when set,
// must also be JSON; it is stored readable but bound to the ciphertext.
//
// Returns ErrDecode when either argument is not valid JSON.
func Insert(ctx context.Context, conn Connection, boxRef string, document, additionalData []byte) (*InsertResult, error) {
	if !json.Valid(document) {
		return nil, fmt.Errorf("%w: document is not valid JSON", kerrors.ErrDecode)
	}
	if len(additionalData) > 0 && !json.Valid(additionalData) {
		return nil, fmt.Errorf("%w: additional data is not valid JSON", kerrors.ErrDecode)
	}

	s, err := openUserSession(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, boxRef)
	if err != nil {
		return nil, err
	}
	id, err := sb.Insert(ctx, s.user, json.RawMessage(document), additionalData)
	if err != nil {
		return nil, err
	}

	entry := audit.LogWithUser("insert", s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	entry.DocumentID = id
	audit.Log(entry)

	return &InsertResult{BoxID: sb.ID, DocumentID: id}, nil
}

// RetrieveOptions configures the retrieve workflows.
type RetrieveOptions struct {
	Connection
	Box string

	// Since keeps records created at or after it.
	Since time.Time

	// Unsorted keeps backend order instead of sorting by timestamp.
	Unsorted bool
}

// RetrievedDocument is a decrypted document with its writer's username.
type RetrievedDocument struct {
	sbox.Message
	Writer string
}

// Retrieve decrypts every document in an SBox, oldest first unless
// Unsorted is set.
//
// Returns ErrKeyNotFound when the user's access was revoked and
// ErrIntegrity when any document fails authentication.
func Retrieve(ctx context.Context, opts RetrieveOptions) ([]RetrievedDocument, error) {
	s, err := openUserSession(ctx, opts.Connection)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, opts.Box)
	if err != nil {
		return nil, err
	}
	messages, err := sb.Retrieve(ctx, s.user, sbox.RetrieveOptions{Since: opts.Since, Sorted: !opts.Unsorted})
	if err != nil {
		return nil, err
	}

	names := s.usernames(ctx)
	docs := make([]RetrievedDocument, len(messages))
	for i, m := range messages {
		docs[i] = RetrievedDocument{Message: m, Writer: names(m.WriterID)}
	}

	entry := audit.LogWithUser("retrieve", s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	entry.Count = len(docs)
	audit.Log(entry)

	return docs, nil
}

// Remove deletes one document from an SBox.
func Remove(ctx context.Context, conn Connection, boxRef, documentID string) error {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, boxRef)
	if err != nil {
		return err
	}
	if err := sb.Remove(ctx, s.user, documentID); err != nil {
		return err
	}

	entry := audit.LogWithUser("remove", s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	entry.DocumentID = documentID
	audit.Log(entry)
	return nil
}

// usernames returns a memoizing id-to-username resolver. Unknown ids
// (such as deleted accounts) resolve to "".
func (s *session) usernames(ctx context.Context) func(id string) string {
	cache := make(map[string]string)
	return func(id string) string {
		if name, ok := cache[id]; ok {
			return name
		}
		name, err := s.user.LookupUsername(ctx, id)
		if err != nil {
			s.log.Debugf("Resolving user %s: %v", id, err)
		}
		cache[id] = name
		return name
	}
}
