package sbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/secrets"
	"github.com/PolarWolf314/sbox/internal/storage"
)

// User is a logged-in account with its unwrapped identity and the common
// keys it has recovered so far.
type User struct {
	ID       string
	Username string

	client   *Client
	identity *secrets.Identity
	keys     *secrets.Keyring
	engine   *secrets.Engine

	mu      sync.Mutex
	session *storage.Session
	sboxIDs []string
	sboxes  map[string]*SBox
}

func newUser(c *Client, id, username string, session *storage.Session, identity *secrets.Identity) *User {
	keys := secrets.NewKeyring(identity)
	return &User{
		ID:       id,
		Username: username,
		client:   c,
		identity: identity,
		keys:     keys,
		engine:   secrets.NewEngine(keys),
		session:  session,
		sboxes:   make(map[string]*SBox),
	}
}

func (u *User) active() error {
	if u == nil || !u.identity.Active() {
		return kerrors.ErrNotLoggedIn
	}
	return nil
}

// Logout ends the backend session, drops every cached common key and
// destroys the identity. The user cannot be used afterwards.
func (u *User) Logout(ctx context.Context) error {
	if err := u.active(); err != nil {
		return err
	}

	u.mu.Lock()
	token := u.session.Token
	u.sboxes = make(map[string]*SBox)
	u.sboxIDs = nil
	u.mu.Unlock()

	u.keys.Purge()
	u.identity.Destroy()
	u.client.releaseCurrent(u)

	if err := u.client.backend.EndSession(ctx, token); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	u.client.log.Infof("Logged out %s", u.Username)
	return nil
}

// UpdateAuth refreshes the backend session and returns its new expiry.
func (u *User) UpdateAuth(ctx context.Context) (time.Time, error) {
	if err := u.active(); err != nil {
		return time.Time{}, err
	}

	u.mu.Lock()
	token := u.session.Token
	u.mu.Unlock()

	session, err := u.client.backend.RefreshSession(ctx, token)
	if err != nil {
		return time.Time{}, fmt.Errorf("refreshing session: %w", err)
	}

	u.mu.Lock()
	u.session = session
	u.mu.Unlock()
	return session.ExpiresAt, nil
}

// Info returns the free-form user info stored at sign-up.
func (u *User) Info(ctx context.Context) (map[string]string, error) {
	if err := u.active(); err != nil {
		return nil, err
	}
	account, err := u.client.backend.GetUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	info := map[string]string{}
	if raw := account.Attributes[attrUserInfo]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("%w: user info: %v", kerrors.ErrDecode, err)
		}
	}
	return info, nil
}

// Search resolves username to a user id by exact match. Zero or several
// matches return found=false with a nil error; err is only set when the
// lookup itself failed.
func (u *User) Search(ctx context.Context, username string) (id string, found bool, err error) {
	if err := u.active(); err != nil {
		return "", false, err
	}
	users, err := u.client.backend.FindUsers(ctx, username)
	if err != nil {
		return "", false, fmt.Errorf("searching for %s: %w", username, err)
	}
	if len(users) != 1 {
		return "", false, nil
	}
	return users[0].ID, true, nil
}

// resolve is Search that treats a missing user as ErrUserNotFound.
func (u *User) resolve(ctx context.Context, username string) (string, error) {
	id, found, err := u.Search(ctx, username)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", kerrors.ErrUserNotFound, username)
	}
	return id, nil
}

// LookupUsername returns the username of the account with the given id.
func (u *User) LookupUsername(ctx context.Context, userID string) (string, error) {
	if err := u.active(); err != nil {
		return "", err
	}
	account, err := u.client.backend.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("looking up user %s: %w", userID, err)
	}
	return account.Username, nil
}

// CreateSBox creates a new SBox owned by the user.
func (u *User) CreateSBox(ctx context.Context, name string) (*SBox, error) {
	sb, err := Create(ctx, u, name)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	u.sboxes[sb.ID] = sb
	u.sboxIDs = appendUnique(u.sboxIDs, sb.ID)
	u.mu.Unlock()
	return sb, nil
}

// SyncSBoxes reloads the ids of the SBoxes the user is linked to. Keys and
// cached handles of SBoxes the user is no longer linked to are evicted.
func (u *User) SyncSBoxes(ctx context.Context) ([]string, error) {
	if err := u.active(); err != nil {
		return nil, err
	}
	l, err := u.client.collections(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := u.client.searchAll(ctx, l.links, storage.Query{Equals: map[string]string{fieldUserID: u.ID}})
	if err != nil {
		return nil, fmt.Errorf("syncing sboxes: %w", err)
	}

	var ids []string
	linked := make(map[string]bool, len(docs))
	for _, doc := range docs {
		var link linkRecord
		if err := decodeRecord(doc, &link); err != nil {
			return nil, err
		}
		if !linked[link.SBoxID] {
			linked[link.SBoxID] = true
			ids = append(ids, link.SBoxID)
		}
	}

	var stale []string
	for _, id := range u.seen() {
		if !linked[id] {
			stale = append(stale, id)
		}
	}

	u.mu.Lock()
	for _, id := range stale {
		delete(u.sboxes, id)
	}
	u.sboxIDs = ids
	u.mu.Unlock()

	for _, id := range stale {
		u.keys.Evict(id)
	}

	u.client.log.Debugf("%s is linked to %d sboxes", u.Username, len(ids))
	return append([]string(nil), ids...), nil
}

// SBoxIDs returns the ids from the last SyncSBoxes, plus SBoxes created or
// opened since.
func (u *User) SBoxIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.sboxIDs...)
}

// GetSBox returns a handle for the SBox with the given id.
func (u *User) GetSBox(ctx context.Context, id string) (*SBox, error) {
	if err := u.active(); err != nil {
		return nil, err
	}

	u.mu.Lock()
	sb, ok := u.sboxes[id]
	u.mu.Unlock()
	if ok {
		return sb, nil
	}

	sb, err := load(ctx, u.client, id)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	u.sboxes[id] = sb
	u.rememberLocked(id)
	u.mu.Unlock()
	return sb, nil
}

// RemoveSBox deletes the SBox and everything in it.
func (u *User) RemoveSBox(ctx context.Context, id string) error {
	sb, err := u.GetSBox(ctx, id)
	if err != nil {
		return err
	}
	return sb.Delete(ctx, u)
}

// DeleteAccount deletes SBoxes the user owns, leaves the ones shared with
// them, removes the published public key, deletes the account and logs out
// locally.
func (u *User) DeleteAccount(ctx context.Context) error {
	ids, err := u.SyncSBoxes(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		sb, err := u.GetSBox(ctx, id)
		if errors.Is(err, kerrors.ErrSBoxNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if sb.OwnerID == u.ID {
			err = sb.Delete(ctx, u)
		} else {
			err = sb.leave(ctx, u)
		}
		if err != nil {
			return fmt.Errorf("deleting account: %w", err)
		}
	}

	l, err := u.client.collections(ctx)
	if err != nil {
		return err
	}
	err = u.client.runSaga(ctx, "delete account "+u.Username, []step{
		{"remove public key", func(ctx context.Context) error {
			return u.client.deleteMatching(ctx, l.publicKeys, map[string]string{fieldUserID: u.ID})
		}},
		{"delete account", func(ctx context.Context) error {
			return u.client.backend.DeleteUser(ctx, u.ID)
		}},
	})
	if err != nil {
		return err
	}

	u.keys.Purge()
	u.identity.Destroy()
	u.client.releaseCurrent(u)
	u.client.log.Infof("Deleted account %s", u.Username)
	return nil
}

func (u *User) forget(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.sboxes, id)
	for i, known := range u.sboxIDs {
		if known == id {
			u.sboxIDs = append(u.sboxIDs[:i], u.sboxIDs[i+1:]...)
			break
		}
	}
}

func (u *User) rememberLocked(id string) {
	u.sboxIDs = appendUnique(u.sboxIDs, id)
}

func (u *User) seen() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	ids := append([]string(nil), u.sboxIDs...)
	for id := range u.sboxes {
		ids = appendUnique(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// deleteMatching removes every document in collectionID whose index matches equals.
func (c *Client) deleteMatching(ctx context.Context, collectionID string, equals map[string]string) error {
	docs, err := c.searchAll(ctx, collectionID, storage.Query{Equals: equals})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := c.backend.DeleteDocument(ctx, collectionID, doc.ID); err != nil && !errors.Is(err, kerrors.ErrNotFound) {
			return err
		}
	}
	return nil
}

func appendUnique(ids []string, id string) []string {
	for _, known := range ids {
		if known == id {
			return ids
		}
	}
	return append(ids, id)
}
