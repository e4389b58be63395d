package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/storefront-booking/internal/wizard"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewStore(client, time.Hour), mr
}

func TestCreateGetSave(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "acme", &wizard.Identity{CustomerID: "c-1", Email: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, wizard.StepService, session.Step)

	loaded, err := store.Get(ctx, "acme", session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	require.NotNil(t, loaded.Identity)
	assert.Equal(t, "c-1", loaded.Identity.CustomerID)

	loaded.Notes = "window seat"
	require.NoError(t, store.Save(ctx, loaded))
	again, err := store.Get(ctx, "acme", session.ID)
	require.NoError(t, err)
	assert.Equal(t, "window seat", again.Notes)

	assert.Equal(t, time.Hour, mr.TTL(sessionKey("acme", session.ID)))
}

func TestGetIsScopedToStore(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "acme", nil)
	require.NoError(t, err)

	_, err = store.Get(ctx, "other", session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "acme", nil)
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	_, err = store.Get(ctx, "acme", session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReferenceBinding(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BindReference(ctx, "txn-1", SessionRef{StoreID: "acme", SessionID: "s-1"}))
	owner, err := store.LookupReference(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, SessionRef{StoreID: "acme", SessionID: "s-1"}, owner)

	_, err = store.LookupReference(ctx, "txn-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLockIsExclusive(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	unlock, err := store.Lock(ctx, "s-1", 0)
	require.NoError(t, err)

	_, err = store.Lock(ctx, "s-1", 0)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = store.Lock(ctx, "s-2", 0)
	assert.NoError(t, err, "locks are per session")

	unlock()
	assert.False(t, mr.Exists(lockKeyPrefix+"s-1"))

	unlock2, err := store.Lock(ctx, "s-1", 0)
	require.NoError(t, err)
	unlock2()
}

func TestLockWaitsForRelease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	unlock, err := store.Lock(ctx, "s-1", 0)
	require.NoError(t, err)
	go func() {
		time.Sleep(100 * time.Millisecond)
		unlock()
	}()

	unlock2, err := store.Lock(ctx, "s-1", 2*time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestStaleUnlockDoesNotReleaseNewOwner(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	unlock, err := store.Lock(ctx, "s-1", 0)
	require.NoError(t, err)
	mr.FastForward(lockTTL + time.Second)

	unlock2, err := store.Lock(ctx, "s-1", 0)
	require.NoError(t, err)
	unlock()
	assert.True(t, mr.Exists(lockKeyPrefix+"s-1"), "expired owner must not release the new lock")
	unlock2()
}

func TestCompletedSessionGetsShortTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "acme", nil)
	require.NoError(t, err)
	session.Step = wizard.StepSuccess
	require.NoError(t, store.Save(ctx, session))

	assert.Equal(t, completedTTL, mr.TTL(sessionKey("acme", session.ID)))
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "acme", nil)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "acme", session.ID))

	_, err = store.Get(ctx, "acme", session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
