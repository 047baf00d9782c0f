// ABOUTME: Tests for the local grant-row permission provider
// ABOUTME: Covers level resolution, owner protection, listings, and filtering

package permissions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbookhq/runbook-gateway/internal/store"
)

func setupLocalProvider(t *testing.T) (*LocalProvider, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewLocalProvider(s.DB()), s
}

func createTestRunbook(t *testing.T, s *store.SQLiteStore, id, owner string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CreateRunbook(context.Background(), &store.Runbook{
		ID:        id,
		Title:     "Test",
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestLocalCheckPermission_Owner(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")

	res, err := p.CheckPermission(context.Background(), "alice", "rb-1")
	require.NoError(t, err)
	assert.True(t, res.HasAccess)
	assert.Equal(t, LevelOwner, res.Level)
}

func TestLocalCheckPermission_NoGrant(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")

	res, err := p.CheckPermission(context.Background(), "bob", "rb-1")
	require.NoError(t, err)
	assert.False(t, res.HasAccess)
	assert.Equal(t, LevelNone, res.Level)
}

func TestLocalGrantAndCheck(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")
	ctx := context.Background()

	require.NoError(t, p.GrantPermission(ctx, Grant{RunbookID: "rb-1", UserID: "bob", GrantedBy: "alice"}))

	res, err := p.CheckPermission(ctx, "bob", "rb-1")
	require.NoError(t, err)
	assert.True(t, res.HasAccess)
	assert.Equal(t, LevelWriter, res.Level)
	assert.True(t, res.Level.Satisfies(LevelWriter))
	assert.False(t, res.Level.Satisfies(LevelOwner))
}

func TestLocalGrant_NeverDowngradesOwner(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")
	ctx := context.Background()

	// A writer grant aimed at the owner must leave the owner grant intact.
	require.NoError(t, p.GrantPermission(ctx, Grant{RunbookID: "rb-1", UserID: "alice", GrantedBy: "alice"}))

	res, err := p.CheckPermission(ctx, "alice", "rb-1")
	require.NoError(t, err)
	assert.Equal(t, LevelOwner, res.Level)
}

func TestLocalGrant_Idempotent(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")
	ctx := context.Background()

	g := Grant{RunbookID: "rb-1", UserID: "bob", GrantedBy: "alice"}
	require.NoError(t, p.GrantPermission(ctx, g))
	require.NoError(t, p.GrantPermission(ctx, g))

	perms, err := p.ListPermissions(ctx, "rb-1")
	require.NoError(t, err)
	assert.Len(t, perms, 2) // owner + bob, not three rows
}

func TestLocalRevoke(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")
	ctx := context.Background()

	require.NoError(t, p.GrantPermission(ctx, Grant{RunbookID: "rb-1", UserID: "bob", GrantedBy: "alice"}))
	require.NoError(t, p.RevokePermission(ctx, Revocation{RunbookID: "rb-1", UserID: "bob", RevokedBy: "alice"}))

	res, err := p.CheckPermission(ctx, "bob", "rb-1")
	require.NoError(t, err)
	assert.False(t, res.HasAccess)
}

func TestLocalRevoke_OwnerRejected(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")

	err := p.RevokePermission(context.Background(), Revocation{RunbookID: "rb-1", UserID: "alice", RevokedBy: "alice"})
	assert.ErrorIs(t, err, ErrCannotRevokeOwner)

	// The owner grant survives the attempt.
	res, checkErr := p.CheckPermission(context.Background(), "alice", "rb-1")
	require.NoError(t, checkErr)
	assert.Equal(t, LevelOwner, res.Level)
}

func TestLocalRevoke_MissingGrant(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")

	err := p.RevokePermission(context.Background(), Revocation{RunbookID: "rb-1", UserID: "bob", RevokedBy: "alice"})
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestLocalListPermissions_OwnerFirst(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")
	ctx := context.Background()

	require.NoError(t, p.GrantPermission(ctx, Grant{RunbookID: "rb-1", UserID: "bob", GrantedBy: "alice"}))
	require.NoError(t, p.GrantPermission(ctx, Grant{RunbookID: "rb-1", UserID: "carol", GrantedBy: "alice"}))

	perms, err := p.ListPermissions(ctx, "rb-1")
	require.NoError(t, err)
	require.Len(t, perms, 3)

	assert.Equal(t, "alice", perms[0].UserID)
	assert.Equal(t, LevelOwner, perms[0].Level)
	for _, up := range perms[1:] {
		assert.Equal(t, LevelWriter, up.Level)
		assert.Equal(t, "alice", up.GrantedBy)
		assert.False(t, up.GrantedAt.IsZero())
	}
}

func TestLocalIsOwner(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")
	ctx := context.Background()

	require.NoError(t, p.GrantPermission(ctx, Grant{RunbookID: "rb-1", UserID: "bob", GrantedBy: "alice"}))

	owner, err := p.IsOwner(ctx, "alice", "rb-1")
	require.NoError(t, err)
	assert.True(t, owner)

	owner, err = p.IsOwner(ctx, "bob", "rb-1")
	require.NoError(t, err)
	assert.False(t, owner)
}

func TestLocalListAccessibleRunbooks(t *testing.T) {
	p, s := setupLocalProvider(t)
	ctx := context.Background()

	createTestRunbook(t, s, "rb-owned", "alice")
	createTestRunbook(t, s, "rb-shared", "bob")
	createTestRunbook(t, s, "rb-hidden", "bob")
	require.NoError(t, p.GrantPermission(ctx, Grant{RunbookID: "rb-shared", UserID: "alice", GrantedBy: "bob"}))

	ids, err := p.ListAccessibleRunbooks(ctx, "alice", "runbook", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rb-owned", "rb-shared"}, ids)

	owned, err := p.ListAccessibleRunbooks(ctx, "alice", "runbook", []Level{LevelOwner})
	require.NoError(t, err)
	assert.Equal(t, []string{"rb-owned"}, owned)

	writing, err := p.ListAccessibleRunbooks(ctx, "alice", "runbook", []Level{LevelWriter})
	require.NoError(t, err)
	assert.Equal(t, []string{"rb-shared"}, writing)
}

func TestLocalFilterAccessibleRunbooks_PreservesOrder(t *testing.T) {
	p, s := setupLocalProvider(t)
	ctx := context.Background()

	createTestRunbook(t, s, "rb-1", "alice")
	createTestRunbook(t, s, "rb-2", "bob")
	createTestRunbook(t, s, "rb-3", "alice")

	filtered, err := p.FilterAccessibleRunbooks(ctx, "alice", []string{"rb-3", "rb-2", "rb-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rb-3", "rb-1"}, filtered)

	empty, err := p.FilterAccessibleRunbooks(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalFilterMatchesListAndCheck(t *testing.T) {
	// The three read paths must agree on what the user can see.
	p, s := setupLocalProvider(t)
	ctx := context.Background()

	createTestRunbook(t, s, "rb-1", "alice")
	createTestRunbook(t, s, "rb-2", "bob")
	require.NoError(t, p.GrantPermission(ctx, Grant{RunbookID: "rb-2", UserID: "alice", GrantedBy: "bob"}))

	listed, err := p.ListAccessibleRunbooks(ctx, "alice", "runbook", nil)
	require.NoError(t, err)

	filtered, err := p.FilterAccessibleRunbooks(ctx, "alice", []string{"rb-1", "rb-2"})
	require.NoError(t, err)
	assert.ElementsMatch(t, listed, filtered)

	for _, id := range listed {
		res, err := p.CheckPermission(ctx, "alice", id)
		require.NoError(t, err)
		assert.True(t, res.HasAccess)
	}
}

func TestCheckOrDeny_DegradesToNoAccess(t *testing.T) {
	p, s := setupLocalProvider(t)
	createTestRunbook(t, s, "rb-1", "alice")

	// Force read failures by closing the database out from under the provider.
	require.NoError(t, s.Close())

	res := CheckOrDeny(context.Background(), p, "alice", "rb-1", nil)
	assert.False(t, res.HasAccess)
	assert.Equal(t, LevelNone, res.Level)
	assert.NotEmpty(t, res.Reason)
}

func TestLevelSatisfies(t *testing.T) {
	assert.True(t, LevelOwner.Satisfies(LevelOwner))
	assert.True(t, LevelOwner.Satisfies(LevelWriter))
	assert.True(t, LevelWriter.Satisfies(LevelWriter))
	assert.False(t, LevelWriter.Satisfies(LevelOwner))
	assert.False(t, LevelNone.Satisfies(LevelWriter))
	assert.True(t, LevelNone.Satisfies(LevelNone))
}
