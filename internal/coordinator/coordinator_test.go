package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/pocketsync/internal/backup"
	"github.com/dmitrijs2005/pocketsync/internal/cloudsync"
	"github.com/dmitrijs2005/pocketsync/internal/localstore"
	"github.com/dmitrijs2005/pocketsync/internal/remote"
	"github.com/dmitrijs2005/pocketsync/internal/syncqueue"
	"github.com/dmitrijs2005/pocketsync/internal/userdata"
)

var _ userdata.Store = (*Coordinator)(nil)

var testNow = time.Date(2025, 8, 20, 15, 0, 0, 0, time.UTC)

// brokenRemote fails every listing, and therefore every probe.
type brokenRemote struct {
	*remote.MemoryStore
}

func (brokenRemote) List(context.Context, string) ([]remote.ObjectInfo, error) {
	return nil, errors.New("unreachable")
}

func newCoordinator(t *testing.T, backend localstore.Backend, rs remote.ObjectStore) *Coordinator {
	t.Helper()
	ctx := context.Background()
	local := localstore.New(backend, nil)

	// debounce long enough that only explicit syncs run during a test
	syncer := cloudsync.New(ctx, rs, syncqueue.New(), local, nil, cloudsync.Config{DebounceDelay: time.Hour})
	engine, err := backup.New(ctx, local, map[string]remote.ObjectStore{backup.ProviderPrimary: rs}, nil,
		backup.Options{BatchSize: 50}, backup.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	c := New(local, syncer, engine, rs, nil, Options{}, WithClock(func() time.Time { return testNow }))
	t.Cleanup(c.Destroy)
	return c
}

func TestSetItem_WritesLocallyAndMirrorsOnSync(t *testing.T) {
	ctx := context.Background()
	rs := remote.NewMemoryStore()
	c := newCoordinator(t, localstore.NewMemoryBackend(), rs)
	c.SetOnlineStatus(ctx, true)

	require.NoError(t, c.SetItem(ctx, "a", json.RawMessage(`{"n":1}`)))
	v, ok := c.GetItem(ctx, "a")
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(v))
	assert.Equal(t, 1, c.SyncQueueStatus().Length)

	require.NoError(t, c.ForceSyncNow(ctx))
	_, err := rs.Get(ctx, remote.DataKey("a"))
	require.NoError(t, err)
	assert.Equal(t, cloudsync.StateSynced, c.SyncStatus().State)

	require.NoError(t, c.RemoveItem(ctx, "a"))
	_, ok = c.GetItem(ctx, "a")
	require.True(t, ok, "remote copy is still there until the removal syncs")

	require.NoError(t, c.RemoveItem(ctx, "a"))
	require.NoError(t, c.ForceSyncNow(ctx))
	_, err = rs.Get(ctx, remote.DataKey("a"))
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestSetItem_InvalidValueIsNotQueued(t *testing.T) {
	c := newCoordinator(t, localstore.NewMemoryBackend(), remote.NewMemoryStore())

	err := c.SetItem(context.Background(), "a", json.RawMessage(`{broken`))
	require.ErrorIs(t, err, localstore.ErrInvalidValue)
	assert.Equal(t, 0, c.SyncQueueStatus().Length)
}

func TestGetItem_HydratesFromRemote(t *testing.T) {
	ctx := context.Background()
	rs := remote.NewMemoryStore()

	first := newCoordinator(t, localstore.NewMemoryBackend(), rs)
	first.SetOnlineStatus(ctx, true)
	require.NoError(t, first.SetItem(ctx, "profile", json.RawMessage(`"alice"`)))
	require.NoError(t, first.ForceSyncNow(ctx))

	backend := localstore.NewMemoryBackend()
	second := newCoordinator(t, backend, rs)

	_, ok := second.GetItem(ctx, "profile")
	assert.False(t, ok, "offline miss")

	second.SetOnlineStatus(ctx, true)
	v, ok := second.GetItem(ctx, "profile")
	require.True(t, ok)
	assert.JSONEq(t, `"alice"`, string(v))

	raw, err := backend.Get(ctx, "profile")
	require.NoError(t, err)
	assert.JSONEq(t, `"alice"`, string(raw))
	assert.Equal(t, 0, second.SyncQueueStatus().Length, "hydration is not a mutation")
}

func TestMultipleOps(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, localstore.NewMemoryBackend(), remote.NewMemoryStore())

	require.NoError(t, c.SetMultiple(ctx, map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`2`),
		"c": json.RawMessage(`3`),
	}))
	assert.Equal(t, 3, c.SyncQueueStatus().Length)

	got := c.GetMultiple(ctx, []string{"a", "c", "missing"})
	assert.Len(t, got, 2)
	assert.JSONEq(t, `3`, string(got["c"]))

	require.NoError(t, c.RemoveMultiple(ctx, []string{"a", "b"}))
	keys, err := c.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, keys)

	items := c.syncer.QueueStatus()
	assert.Equal(t, 3, items.Length, "removals replace the pending sets")
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	rs := remote.NewMemoryStore()
	c := newCoordinator(t, localstore.NewMemoryBackend(), rs)
	c.SetOnlineStatus(ctx, true)

	require.NoError(t, c.SetItem(ctx, "a", json.RawMessage(`1`)))
	require.NoError(t, c.ForceSyncNow(ctx))
	require.NoError(t, c.SetItem(ctx, "b", json.RawMessage(`2`)))
	_, err := c.UpdateBackupConfig(ctx, backup.ConfigPatch{Providers: []string{backup.ProviderPrimary}})
	require.NoError(t, err)
	require.NoError(t, rs.Put(ctx, remote.BackupPrefix+"1.json", []byte(`{}`)))

	require.NoError(t, c.Clear(ctx))

	keys, err := c.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 0, c.SyncQueueStatus().Length)

	objs, err := rs.List(ctx, remote.DataPrefix)
	require.NoError(t, err)
	assert.Empty(t, objs)
	assert.Equal(t, 1, rs.Len(), "backups are kept")

	_, ok := c.local.Get(ctx, backup.ConfigKey)
	assert.True(t, ok, "engine keys are kept")
}

func TestClear_RemoteFailurePropagates(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, localstore.NewMemoryBackend(), brokenRemote{remote.NewMemoryStore()})
	require.NoError(t, c.SetItem(ctx, "a", json.RawMessage(`1`)))

	err := c.Clear(ctx)
	require.ErrorContains(t, err, "unreachable")

	keys, err := c.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "local clear is not rolled back")
}

func TestBackupPassthrough(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, localstore.NewMemoryBackend(), remote.NewMemoryStore())
	for i := range 5 {
		require.NoError(t, c.SetItem(ctx, fmt.Sprintf("k%d", i), json.RawMessage(`true`)))
	}

	info, err := c.CreateBackup(ctx)
	require.NoError(t, err)

	list, err := c.ListBackups(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)

	require.NoError(t, c.RemoveItem(ctx, "k0"))
	report, err := c.RestoreFromBackup(ctx, info.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 5, report.Restored)
	_, ok := c.GetItem(ctx, "k0")
	assert.True(t, ok)

	stats, err := c.GetBackupStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, testNow, c.GetBackupConfig().LastBackup)

	require.NoError(t, c.DeleteBackup(ctx, info.ID, ""))
	list, err = c.ListBackups(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCheckOnline(t *testing.T) {
	ctx := context.Background()

	up := newCoordinator(t, localstore.NewMemoryBackend(), remote.NewMemoryStore())
	assert.True(t, up.CheckOnline(ctx))
	assert.True(t, up.SyncQueueStatus().Online)

	down := newCoordinator(t, localstore.NewMemoryBackend(), brokenRemote{remote.NewMemoryStore()})
	assert.False(t, down.CheckOnline(ctx))
	assert.False(t, down.SyncQueueStatus().Online)
}

func TestStartDestroy(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, localstore.NewMemoryBackend(), remote.NewMemoryStore())

	c.Start(ctx)
	c.Start(ctx)
	require.Eventually(t, func() bool { return c.SyncQueueStatus().Online }, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Destroy()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy did not stop the background loops")
	}
}

func TestUserNamespaceOverCoordinator(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, localstore.NewMemoryBackend(), remote.NewMemoryStore())
	ns, err := userdata.New(c, "42", nil)
	require.NoError(t, err)

	require.NoError(t, ns.SetUserData(ctx, userdata.TypeTransactions, json.RawMessage(`[1,2]`)))
	got, ok := ns.GetUserData(ctx, userdata.TypeTransactions)
	require.True(t, ok)
	assert.JSONEq(t, `[1,2]`, string(got))

	keys, err := c.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_42_transactions"}, keys)
	assert.Equal(t, 1, c.SyncQueueStatus().Length)
}
