package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:", Options{PasswordMemoryKiB: 1024})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("postgres", "dsn", Options{})
	require.ErrorIs(t, err, kerrors.ErrInvalidConfig)
}

func TestEnsureCollection_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.EnsureCollection(ctx, "sboxes")
	require.NoError(t, err)
	second, err := s.EnsureCollection(ctx, "sboxes")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := s.EnsureCollection(ctx, "public_keys")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestDocuments_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	created, err := s.CreateDocument(ctx, &storage.Document{
		CollectionID: col.ID,
		Index:        map[string]string{"user_id": "u1"},
		Timestamp:    ts,
		Content:      json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetDocument(ctx, col.ID, created.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.Content))
	assert.Equal(t, "u1", got.Index["user_id"])
	assert.True(t, got.Timestamp.Equal(ts))

	got.Content = json.RawMessage(`{"a":2}`)
	got.Index = map[string]string{"user_id": "u2"}
	_, err = s.UpdateDocument(ctx, got)
	require.NoError(t, err)

	page, err := s.Search(ctx, col.ID, storage.Query{Equals: map[string]string{"user_id": "u1"}})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)

	page, err = s.Search(ctx, col.ID, storage.Query{Equals: map[string]string{"user_id": "u2"}})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	assert.JSONEq(t, `{"a":2}`, string(page.Items[0].Content))

	require.NoError(t, s.DeleteDocument(ctx, col.ID, created.ID))
	_, err = s.GetDocument(ctx, col.ID, created.ID)
	require.ErrorIs(t, err, kerrors.ErrNotFound)
	require.ErrorIs(t, s.DeleteDocument(ctx, col.ID, created.ID), kerrors.ErrNotFound)
}

func TestCreateDocument_UnknownCollection(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDocument(context.Background(), &storage.Document{
		CollectionID: "missing",
		Content:      json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestSearch_PagingAndSince(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		// Insert out of order to check the sort.
		n := (i * 7) % 25
		_, err := s.CreateDocument(ctx, &storage.Document{
			CollectionID: col.ID,
			Index:        map[string]string{"kind": "note"},
			Timestamp:    base.Add(time.Duration(n) * time.Second),
			Content:      json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
		})
		require.NoError(t, err)
	}

	page, err := s.Search(ctx, col.ID, storage.Query{Offset: 20, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, page.TotalCount)
	assert.Equal(t, 5, page.Count)
	assert.Equal(t, 20, page.Offset)
	assert.Equal(t, 10, page.Limit)
	assert.JSONEq(t, `{"n":20}`, string(page.Items[0].Content))

	page, err = s.Search(ctx, col.ID, storage.Query{
		Equals: map[string]string{"kind": "note"},
		Since:  base.Add(15 * time.Second),
		Limit:  100,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, page.TotalCount)
	for i := 1; i < len(page.Items); i++ {
		assert.False(t, page.Items[i].Timestamp.Before(page.Items[i-1].Timestamp))
	}
}

func TestDeleteCollection_RemovesDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs")
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, &storage.Document{CollectionID: col.ID, Content: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = s.GrantPermission(ctx, storage.Permission{ResourceID: col.ID, SubjectID: "g1", Actions: []storage.Action{storage.ActionRead}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCollection(ctx, col.ID))

	page, err := s.Search(ctx, col.ID, storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)

	perms, err := s.ListPermissions(ctx, col.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)

	require.ErrorIs(t, s.DeleteCollection(ctx, col.ID), kerrors.ErrNotFound)
}

func TestGroups_Membership(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g, err := s.CreateGroup(ctx, "box")
	require.NoError(t, err)

	require.NoError(t, s.AddMember(ctx, g.ID, "alice"))
	require.NoError(t, s.AddMember(ctx, g.ID, "bob"))
	require.NoError(t, s.AddMember(ctx, g.ID, "bob"))

	members, err := s.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	require.NoError(t, s.RemoveMember(ctx, g.ID, "bob"))
	require.NoError(t, s.RemoveMember(ctx, g.ID, "bob"))

	members, err = s.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	require.NoError(t, s.DeleteGroup(ctx, g.ID))
	_, err = s.ListMembers(ctx, g.ID)
	require.ErrorIs(t, err, kerrors.ErrNotFound)
	require.ErrorIs(t, s.AddMember(ctx, g.ID, "carol"), kerrors.ErrNotFound)
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.GrantPermission(ctx, storage.Permission{
		ResourceID: "col",
		SubjectID:  "group",
		Actions:    []storage.Action{storage.ActionRead, storage.ActionWrite},
	})
	require.NoError(t, err)

	perms, err := s.ListPermissions(ctx, "col")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, []storage.Action{storage.ActionRead, storage.ActionWrite}, perms[0].Actions)

	require.NoError(t, s.RevokePermission(ctx, p.ID))
	require.ErrorIs(t, s.RevokePermission(ctx, p.ID), kerrors.ErrNotFound)
}

func TestUsers_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u, err := s.CreateUser(ctx, "alice", "pw", map[string]string{"private_key": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", u.Attributes["private_key"])

	_, err = s.CreateUser(ctx, "alice", "other", nil)
	require.ErrorIs(t, err, kerrors.ErrUsernameTaken)

	_, err = s.CreateUser(ctx, "", "pw", nil)
	require.ErrorIs(t, err, kerrors.ErrInvalidUsername)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	require.ErrorIs(t, err, kerrors.ErrUnauthorized)
	_, err = s.Authenticate(ctx, "nobody", "pw")
	require.ErrorIs(t, err, kerrors.ErrUnauthorized)

	session, err := s.Authenticate(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, u.ID, session.UserID)

	found, err := s.FindUsers(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, u.ID, found[0].ID)

	found, err = s.FindUsers(ctx, "ali")
	require.NoError(t, err)
	assert.Empty(t, found)

	updated, err := s.UpdateUserAttributes(ctx, u.ID, map[string]string{"info": "x", "private_key": ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"info": "x"}, updated.Attributes)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.GetUser(ctx, u.ID)
	require.ErrorIs(t, err, kerrors.ErrNotFound)
	_, err = s.RefreshSession(ctx, session.Token)
	require.ErrorIs(t, err, kerrors.ErrUnauthorized)
}

func TestSessions_RefreshAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateUser(ctx, "alice", "pw", nil)
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	session, err := s.Authenticate(ctx, "alice", "pw")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	refreshed, err := s.RefreshSession(ctx, session.Token)
	require.NoError(t, err)
	assert.True(t, refreshed.ExpiresAt.After(session.ExpiresAt))

	now = now.Add(DefaultSessionTTL + time.Minute)
	_, err = s.RefreshSession(ctx, session.Token)
	require.ErrorIs(t, err, kerrors.ErrSessionExpired)

	_, err = s.RefreshSession(ctx, session.Token)
	require.ErrorIs(t, err, kerrors.ErrUnauthorized)

	require.NoError(t, s.EndSession(ctx, session.Token))
}
