package maildb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/message"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "maildb", "groups.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestResolveUnknownGroup(t *testing.T) {
	db := openTestDB(t)
	_, err := db.ResolveGroup(context.Background(), "FRIENDS")
	assert.ErrorIs(t, err, mferrors.ErrUnknownGroup)
}

func TestLearnAndResolve(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.LearnAddresses(ctx, "Friends", []message.CoreAddress{"bob@example.com", "Alice@Example.com"}))
	require.NoError(t, db.LearnAddresses(ctx, "friends", []message.CoreAddress{"alice@example.com"}))

	members, err := db.ResolveGroup(ctx, "FRIENDS")
	require.NoError(t, err)
	assert.Equal(t, []message.CoreAddress{"alice@example.com", "bob@example.com"}, members)

	groups, err := db.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []GroupInfo{{Name: "friends", Members: 2}}, groups)

	of, err := db.GroupsOf(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"friends"}, of)
}

func TestEmptyGroupResolves(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddToGroup(ctx, "empty"))
	members, err := db.ResolveGroup(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRemoveAndDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddToGroup(ctx, "spammers", "a@x.com", "b@x.com"))
	require.NoError(t, db.RemoveFromGroup(ctx, "spammers", "A@X.COM", "nobody@x.com"))

	members, err := db.Members(ctx, "spammers")
	require.NoError(t, err)
	assert.Equal(t, []message.CoreAddress{"b@x.com"}, members)

	require.NoError(t, db.DeleteGroup(ctx, "SPAMMERS"))
	_, err = db.ResolveGroup(ctx, "spammers")
	assert.ErrorIs(t, err, mferrors.ErrUnknownGroup)

	assert.ErrorIs(t, db.DeleteGroup(ctx, "spammers"), mferrors.ErrUnknownGroup)
}

func TestReopenKeepsGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.db")
	ctx := context.Background()

	db, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, db.AddToGroup(ctx, "family", "mum@example.com"))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	members, err := db.ResolveGroup(ctx, "family")
	require.NoError(t, err)
	assert.Equal(t, []message.CoreAddress{"mum@example.com"}, members)
}
