package sbox

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/secrets"
	"github.com/PolarWolf314/sbox/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SBox is a handle on a secure box: an access group plus three collections
// holding encrypted documents, encrypted files and per-member wrapped keys.
type SBox struct {
	ID                    string
	Name                  string
	OwnerID               string
	GroupID               string
	DocumentsCollectionID string
	FilesCollectionID     string
	KeysCollectionID      string

	client *Client

	mu      sync.Mutex
	members []string
	lastTS  time.Time
	seeded  bool
}

func fromRecord(c *Client, id string, rec sboxRecord) *SBox {
	return &SBox{
		ID:                    id,
		Name:                  rec.Name,
		OwnerID:               rec.OwnerID,
		GroupID:               rec.GroupID,
		DocumentsCollectionID: rec.DocumentsCollectionID,
		FilesCollectionID:     rec.FilesCollectionID,
		KeysCollectionID:      rec.KeysCollectionID,
		client:                c,
	}
}

func (sb *SBox) record() sboxRecord {
	return sboxRecord{
		Name:                  sb.Name,
		OwnerID:               sb.OwnerID,
		GroupID:               sb.GroupID,
		DocumentsCollectionID: sb.DocumentsCollectionID,
		FilesCollectionID:     sb.FilesCollectionID,
		KeysCollectionID:      sb.KeysCollectionID,
	}
}

func load(ctx context.Context, c *Client, id string) (*SBox, error) {
	l, err := c.collections(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := c.backend.GetDocument(ctx, l.sboxes, id)
	if err != nil {
		if errors.Is(err, kerrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", kerrors.ErrSBoxNotFound, id)
		}
		return nil, err
	}
	var rec sboxRecord
	if err := decodeRecord(*doc, &rec); err != nil {
		return nil, err
	}
	return fromRecord(c, id, rec), nil
}

// Create allocates the backend structures of a new SBox owned by owner and
// generates its common key.
//
// The collections and the group are created concurrently. Everything after
// that runs as an uncompensated saga: on failure the error names the step
// and earlier backend writes remain.
func Create(ctx context.Context, owner *User, name string) (*SBox, error) {
	if err := owner.active(); err != nil {
		return nil, err
	}
	c := owner.client
	l, err := c.collections(ctx)
	if err != nil {
		return nil, err
	}

	sb := &SBox{ID: uuid.New().String(), Name: name, OwnerID: owner.ID, client: c}

	var docs, files, keys *storage.Collection
	var group *storage.Group
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		docs, err = c.backend.CreateCollection(gctx, "sbox-"+sb.ID+"-documents")
		return err
	})
	g.Go(func() (err error) {
		files, err = c.backend.CreateCollection(gctx, "sbox-"+sb.ID+"-files")
		return err
	})
	g.Go(func() (err error) {
		keys, err = c.backend.CreateCollection(gctx, "sbox-"+sb.ID+"-keys")
		return err
	})
	g.Go(func() (err error) {
		group, err = c.backend.CreateGroup(gctx, "sbox-"+sb.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, c.log.ErrorfAndReturn("create sbox %s: allocating backend structures: %w", name, err)
	}

	sb.DocumentsCollectionID = docs.ID
	sb.FilesCollectionID = files.ID
	sb.KeysCollectionID = keys.ID
	sb.GroupID = group.ID

	err = c.runSaga(ctx, "create sbox "+name, []step{
		{"generate common key", func(context.Context) error {
			return owner.keys.Generate(sb.ID)
		}},
		{"store wrapped key", func(ctx context.Context) error {
			return sb.storeWrappedKey(ctx, owner, owner.ID, nil)
		}},
		{"grant group permissions", func(ctx context.Context) error {
			for _, col := range []string{sb.DocumentsCollectionID, sb.FilesCollectionID, sb.KeysCollectionID} {
				_, err := c.backend.GrantPermission(ctx, storage.Permission{
					ResourceID: col,
					SubjectID:  sb.GroupID,
					Actions:    []storage.Action{storage.ActionRead, storage.ActionWrite},
				})
				if err != nil {
					return err
				}
			}
			return nil
		}},
		{"add owner to group", func(ctx context.Context) error {
			return c.backend.AddMember(ctx, sb.GroupID, owner.ID)
		}},
		{"store sbox record", func(ctx context.Context) error {
			content, err := encodeRecord(sb.record())
			if err != nil {
				return err
			}
			_, err = c.backend.CreateDocument(ctx, &storage.Document{
				ID:           sb.ID,
				CollectionID: l.sboxes,
				Index:        map[string]string{fieldOwnerID: owner.ID},
				Timestamp:    c.now(),
				Content:      content,
			})
			return err
		}},
		{"link owner", func(ctx context.Context) error {
			return sb.link(ctx, owner.ID)
		}},
	})
	if err != nil {
		owner.keys.Evict(sb.ID)
		return nil, err
	}

	sb.mu.Lock()
	sb.members = []string{owner.ID}
	sb.mu.Unlock()

	c.log.Infof("Created sbox %q (%s)", name, sb.ID)
	return sb, nil
}

// GrantAccess shares the SBox with username: wraps the common key for their
// public key, adds them to the access group and links the SBox to them.
//
// Steps that already hold are skipped, so a grant that failed partway can be
// retried. Returns ErrUserNotFound when username does not resolve to exactly
// one user and ErrAlreadyMember when all three steps already hold.
func (sb *SBox) GrantAccess(ctx context.Context, caller *User, username string) error {
	if err := caller.active(); err != nil {
		return err
	}
	c := sb.client

	targetID, err := caller.resolve(ctx, username)
	if err != nil {
		return fmt.Errorf("granting %s access to %s: %w", username, sb.ID, err)
	}
	if err := sb.ensureKey(ctx, caller); err != nil {
		return fmt.Errorf("granting %s access to %s: %w", username, sb.ID, err)
	}

	existing, err := c.searchAll(ctx, sb.KeysCollectionID, storage.Query{Equals: map[string]string{fieldUserID: targetID}})
	if err != nil {
		return err
	}
	hasKey := len(existing) > 0

	members, err := c.backend.ListMembers(ctx, sb.GroupID)
	if err != nil {
		return fmt.Errorf("granting %s access to %s: %w", username, sb.ID, err)
	}
	inGroup := slices.Contains(members, targetID)

	linked, err := sb.linked(ctx, targetID)
	if err != nil {
		return fmt.Errorf("granting %s access to %s: %w", username, sb.ID, err)
	}

	if hasKey && inGroup && linked {
		return fmt.Errorf("granting %s access to %s: %w", username, sb.ID, kerrors.ErrAlreadyMember)
	}

	var steps []step
	if !hasKey {
		recipient, err := c.publicKey(ctx, targetID)
		if err != nil {
			return fmt.Errorf("granting %s access to %s: %w", username, sb.ID, err)
		}
		steps = append(steps, step{"store wrapped key", func(ctx context.Context) error {
			return sb.storeWrappedKey(ctx, caller, targetID, recipient)
		}})
	} else {
		c.log.Debugf("grant %s on %s: wrapped key already stored", username, sb.ID)
	}
	steps = append(steps,
		step{"add to group", func(ctx context.Context) error {
			return c.backend.AddMember(ctx, sb.GroupID, targetID)
		}},
		step{"link sbox", func(ctx context.Context) error {
			return sb.link(ctx, targetID)
		}},
	)

	if err := c.runSaga(ctx, "grant "+username+" on "+sb.ID, steps); err != nil {
		return err
	}

	sb.mu.Lock()
	sb.members = appendUnique(sb.members, targetID)
	sb.mu.Unlock()

	c.log.Infof("Granted %s access to %s", username, sb.ID)
	return nil
}

// RevokeAccess removes username's wrapped key, link and group membership,
// in that order. The common key is not rotated.
func (sb *SBox) RevokeAccess(ctx context.Context, caller *User, username string) error {
	if err := caller.active(); err != nil {
		return err
	}

	targetID, err := caller.resolve(ctx, username)
	if err != nil {
		return fmt.Errorf("revoking %s from %s: %w", username, sb.ID, err)
	}
	if targetID == caller.ID {
		return fmt.Errorf("revoking %s from %s: %w", username, sb.ID, kerrors.ErrSelfRevoke)
	}

	if err := sb.removeMember(ctx, "revoke "+username+" on "+sb.ID, targetID); err != nil {
		return err
	}
	sb.client.log.Infof("Revoked %s from %s", username, sb.ID)
	return nil
}

// leave removes the caller's own access. Used when deleting an account.
func (sb *SBox) leave(ctx context.Context, caller *User) error {
	if err := sb.removeMember(ctx, "leave "+sb.ID, caller.ID); err != nil {
		return err
	}
	caller.keys.Evict(sb.ID)
	caller.forget(sb.ID)
	return nil
}

func (sb *SBox) removeMember(ctx context.Context, op, userID string) error {
	c := sb.client
	l, err := c.collections(ctx)
	if err != nil {
		return err
	}

	err = c.runSaga(ctx, op, []step{
		{"delete wrapped key", func(ctx context.Context) error {
			return c.deleteMatching(ctx, sb.KeysCollectionID, map[string]string{fieldUserID: userID})
		}},
		{"delete link", func(ctx context.Context) error {
			return c.deleteMatching(ctx, l.links, map[string]string{fieldUserID: userID, fieldSBoxID: sb.ID})
		}},
		{"remove from group", func(ctx context.Context) error {
			return c.backend.RemoveMember(ctx, sb.GroupID, userID)
		}},
	})
	if err != nil {
		return err
	}

	sb.mu.Lock()
	for i, id := range sb.members {
		if id == userID {
			sb.members = append(sb.members[:i], sb.members[i+1:]...)
			break
		}
	}
	sb.mu.Unlock()
	return nil
}

// SyncUsers refreshes the member cache from the access group.
func (sb *SBox) SyncUsers(ctx context.Context, caller *User) ([]string, error) {
	if err := caller.active(); err != nil {
		return nil, err
	}
	members, err := sb.client.backend.ListMembers(ctx, sb.GroupID)
	if err != nil {
		return nil, fmt.Errorf("syncing members of %s: %w", sb.ID, err)
	}

	sb.mu.Lock()
	sb.members = append([]string(nil), members...)
	sb.mu.Unlock()
	return members, nil
}

// Members returns the cached member ids. The cache is only as fresh as the
// last SyncUsers, Create, GrantAccess or RevokeAccess on this handle.
func (sb *SBox) Members() []string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return append([]string(nil), sb.members...)
}

// Delete removes the SBox's blobs, collections, links, record and group,
// then evicts its key.
func (sb *SBox) Delete(ctx context.Context, caller *User) error {
	if err := caller.active(); err != nil {
		return err
	}
	c := sb.client
	l, err := c.collections(ctx)
	if err != nil {
		return err
	}

	err = c.runSaga(ctx, "delete sbox "+sb.ID, []step{
		{"delete blobs", func(ctx context.Context) error {
			docs, err := c.searchAll(ctx, sb.FilesCollectionID, storage.Query{})
			if err != nil {
				if errors.Is(err, kerrors.ErrNotFound) {
					return nil
				}
				return err
			}
			for _, doc := range docs {
				var rec fileRecord
				if err := decodeRecord(doc, &rec); err != nil {
					return err
				}
				if err := c.backend.DeleteBlob(ctx, rec.BlobReference); err != nil && !errors.Is(err, kerrors.ErrNotFound) {
					return err
				}
			}
			return nil
		}},
		{"delete collections", func(ctx context.Context) error {
			for _, col := range []string{sb.DocumentsCollectionID, sb.FilesCollectionID, sb.KeysCollectionID} {
				if err := c.backend.DeleteCollection(ctx, col); err != nil && !errors.Is(err, kerrors.ErrNotFound) {
					return err
				}
			}
			return nil
		}},
		{"delete links", func(ctx context.Context) error {
			return c.deleteMatching(ctx, l.links, map[string]string{fieldSBoxID: sb.ID})
		}},
		{"delete sbox record", func(ctx context.Context) error {
			err := c.backend.DeleteDocument(ctx, l.sboxes, sb.ID)
			if errors.Is(err, kerrors.ErrNotFound) {
				return nil
			}
			return err
		}},
		{"delete group", func(ctx context.Context) error {
			err := c.backend.DeleteGroup(ctx, sb.GroupID)
			if errors.Is(err, kerrors.ErrNotFound) {
				return nil
			}
			return err
		}},
	})
	if err != nil {
		return err
	}

	caller.keys.Evict(sb.ID)
	caller.forget(sb.ID)

	sb.mu.Lock()
	sb.members = nil
	sb.mu.Unlock()

	c.log.Infof("Deleted sbox %q (%s)", sb.Name, sb.ID)
	return nil
}

// Unlock recovers the caller's common key without reading any content.
func (sb *SBox) Unlock(ctx context.Context, caller *User) error {
	if err := caller.active(); err != nil {
		return err
	}
	return sb.ensureKey(ctx, caller)
}

// ensureKey makes sure the caller holds the common key, recovering it from
// the caller's wrapped-key record if needed.
//
// Returns ErrKeyNotFound when the caller has no record and ErrKeyConflict
// when it has more than one.
func (sb *SBox) ensureKey(ctx context.Context, caller *User) error {
	if caller.keys.HasKey(sb.ID) {
		return nil
	}

	doc, n, err := sb.client.findOne(ctx, sb.KeysCollectionID, map[string]string{fieldUserID: caller.ID})
	if err != nil {
		if errors.Is(err, kerrors.ErrNotFound) {
			return fmt.Errorf("recovering key for %s: %w", sb.ID, kerrors.ErrKeyNotFound)
		}
		return fmt.Errorf("recovering key for %s: %w", sb.ID, err)
	}
	switch {
	case n == 0:
		return fmt.Errorf("recovering key for %s: %w", sb.ID, kerrors.ErrKeyNotFound)
	case n > 1:
		return fmt.Errorf("recovering key for %s: %w (%d records)", sb.ID, kerrors.ErrKeyConflict, n)
	}

	var rec keyRecord
	if err := decodeRecord(doc, &rec); err != nil {
		return err
	}
	if err := caller.keys.Unwrap(sb.ID, rec.WrappedCommonKey); err != nil {
		return fmt.Errorf("recovering key for %s: %w", sb.ID, err)
	}

	sb.client.log.Debugf("Recovered common key for %s", sb.ID)
	return nil
}

func (sb *SBox) storeWrappedKey(ctx context.Context, caller *User, userID string, recipient *rsa.PublicKey) error {
	wrapped, err := caller.keys.Wrap(sb.ID, recipient)
	if err != nil {
		return err
	}
	content, err := encodeRecord(keyRecord{UserID: userID, WrappedCommonKey: wrapped})
	if err != nil {
		return err
	}
	_, err = sb.client.backend.CreateDocument(ctx, &storage.Document{
		CollectionID: sb.KeysCollectionID,
		Index:        map[string]string{fieldUserID: userID},
		Timestamp:    sb.client.now(),
		Content:      content,
	})
	return err
}

// link records that userID can discover the SBox. An existing link is kept.
func (sb *SBox) link(ctx context.Context, userID string) error {
	linked, err := sb.linked(ctx, userID)
	if err != nil || linked {
		return err
	}
	l, err := sb.client.collections(ctx)
	if err != nil {
		return err
	}
	content, err := encodeRecord(linkRecord{UserID: userID, SBoxID: sb.ID})
	if err != nil {
		return err
	}
	_, err = sb.client.backend.CreateDocument(ctx, &storage.Document{
		CollectionID: l.links,
		Index:        map[string]string{fieldUserID: userID, fieldSBoxID: sb.ID},
		Timestamp:    sb.client.now(),
		Content:      content,
	})
	return err
}

func (sb *SBox) linked(ctx context.Context, userID string) (bool, error) {
	l, err := sb.client.collections(ctx)
	if err != nil {
		return false, err
	}
	_, n, err := sb.client.findOne(ctx, l.links, map[string]string{fieldUserID: userID, fieldSBoxID: sb.ID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// publicKey loads the published identity public key of userID.
func (c *Client) publicKey(ctx context.Context, userID string) (*rsa.PublicKey, error) {
	l, err := c.collections(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := c.searchAll(ctx, l.publicKeys, storage.Query{Equals: map[string]string{fieldUserID: userID}})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: user %s", kerrors.ErrPublicKeyNotFound, userID)
	}

	var rec publicKeyRecord
	if err := decodeRecord(docs[0], &rec); err != nil {
		return nil, err
	}
	der, err := base64.StdEncoding.DecodeString(rec.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key of %s: %v", kerrors.ErrDecode, userID, err)
	}
	return secrets.ParsePublicKey(der)
}

// seedTimestamp raises the handle's last timestamp to the newest stored
// document timestamp at or after now, so a fresh handle does not reissue a
// timestamp (and nonce) that another handle already used.
func (sb *SBox) seedTimestamp(ctx context.Context) error {
	sb.mu.Lock()
	seeded := sb.seeded
	sb.mu.Unlock()
	if seeded {
		return nil
	}

	docs, err := sb.client.searchAll(ctx, sb.DocumentsCollectionID, storage.Query{Since: sb.client.now()})
	if err != nil {
		return err
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	for _, doc := range docs {
		if ts := doc.Timestamp.UTC(); ts.After(sb.lastTS) {
			sb.lastTS = ts
		}
	}
	sb.seeded = true
	return nil
}

// nextTimestamp returns a whole-second timestamp strictly after every
// timestamp this handle issued before, so one writer never reuses a
// document nonce.
func (sb *SBox) nextTimestamp() time.Time {
	ts := sb.client.now()

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !ts.After(sb.lastTS) {
		ts = sb.lastTS.Add(time.Second)
	}
	sb.lastTS = ts
	return ts
}
