package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/pocketsync/internal/localstore"
	"github.com/dmitrijs2005/pocketsync/internal/remote"
)

type failingStore struct {
	*remote.MemoryStore
	failPut func(key string) bool
}

func (f *failingStore) Put(ctx context.Context, key string, body []byte) error {
	if f.failPut != nil && f.failPut(key) {
		return errors.New("put failed")
	}
	return f.MemoryStore.Put(ctx, key, body)
}

type harness struct {
	engine    *Engine
	local     *localstore.Store
	primary   *failingStore
	secondary *failingStore
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		local:     localstore.New(localstore.NewMemoryBackend(), nil),
		primary:   &failingStore{MemoryStore: remote.NewMemoryStore()},
		secondary: &failingStore{MemoryStore: remote.NewMemoryStore()},
		now:       time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC),
	}
	e, err := New(context.Background(), h.local, map[string]remote.ObjectStore{
		ProviderPrimary:   h.primary,
		ProviderSecondary: h.secondary,
	}, nil, Options{BatchSize: 50}, WithClock(func() time.Time { return h.now }))
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) seed(t *testing.T, n int) {
	t.Helper()
	values := make(map[string]json.RawMessage, n)
	for i := range n {
		values[fmt.Sprintf("k%03d", i)] = json.RawMessage(fmt.Sprintf(`{"i":%d}`, i))
	}
	require.NoError(t, h.local.SetMultiple(context.Background(), values))
}

func (h *harness) dataKeys(t *testing.T) []string {
	t.Helper()
	keys, err := h.engine.dataKeys(context.Background())
	require.NoError(t, err)
	return keys
}

func decodeChunk(t *testing.T, s remote.ObjectStore, key string) Chunk {
	t.Helper()
	body, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	var c Chunk
	require.NoError(t, json.Unmarshal(body, &c))
	return c
}

func TestNew_RequiresPrimary(t *testing.T) {
	_, err := New(context.Background(), localstore.New(localstore.NewMemoryBackend(), nil),
		map[string]remote.ObjectStore{ProviderSecondary: remote.NewMemoryStore()}, nil, Options{})
	require.ErrorIs(t, err, ErrNoPrimaryProvider)
}

func TestCreateBackup_StandardSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, 10)
	require.NoError(t, h.local.Set(ctx, localstore.ReservedPrefix+"sync_status", json.RawMessage(`{}`)))

	info, err := h.engine.CreateBackup(ctx)
	require.NoError(t, err)

	ts := h.now.UnixMilli()
	assert.Equal(t, fmt.Sprint(ts), info.ID)
	assert.False(t, info.Chunked)
	assert.Equal(t, 10, info.Keys)

	body, err := h.primary.Get(ctx, fmt.Sprintf("backups/%d.json", ts))
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, ts, snap.Timestamp)
	assert.Len(t, snap.Data, 10)
	assert.NotContains(t, snap.Data, localstore.ReservedPrefix+"sync_status")
	require.NoError(t, verify(snap.Data, snap.Checksum))

	assert.Equal(t, h.now, h.engine.GetConfig().LastBackup)
	raw, ok := h.local.Get(ctx, ConfigKey)
	require.True(t, ok)
	assert.Contains(t, string(raw), h.now.Format(time.RFC3339))

	// secondary is not enabled by default
	assert.Equal(t, 0, h.secondary.Len())
}

func TestCreateBackup_TwiceBatchSizeIsStillStandard(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 100)

	info, err := h.engine.CreateBackup(context.Background())
	require.NoError(t, err)
	assert.False(t, info.Chunked)
	assert.Equal(t, 1, h.primary.Len())
}

func TestCreateBackup_StreamedChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, 120)

	info, err := h.engine.CreateBackup(ctx)
	require.NoError(t, err)

	ts := h.now.UnixMilli()
	assert.Equal(t, fmt.Sprintf("%d_chunked", ts), info.ID)
	assert.True(t, info.Chunked)
	assert.Equal(t, 3, info.Chunks)
	assert.Equal(t, 120, info.Keys)

	sizes := []int{50, 50, 20}
	for i, want := range sizes {
		c := decodeChunk(t, h.primary, fmt.Sprintf("backups/%d_chunk_%d.json", ts, i))
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 3, c.TotalChunks)
		assert.Equal(t, ts, c.Timestamp)
		assert.Len(t, c.Data, want)
		require.NoError(t, verify(c.Data, c.Checksum))
	}
	assert.Equal(t, 3, h.primary.Len())
}

func TestCreateBackup_UploadsToEnabledSecondary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, 5)
	_, err := h.engine.UpdateConfig(ctx, ConfigPatch{Providers: []string{ProviderPrimary, ProviderSecondary, "missing"}})
	require.NoError(t, err)

	_, err = h.engine.CreateBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.primary.Len())
	assert.Equal(t, 1, h.secondary.Len())

	h.now = h.now.Add(time.Minute)
	h.secondary.failPut = func(string) bool { return true }
	_, err = h.engine.CreateBackup(ctx)
	require.NoError(t, err, "secondary failures are not fatal")
	assert.Equal(t, 2, h.primary.Len())
}

func TestCreateBackup_PrimaryFailureDiscardsChunks(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 150)
	h.primary.failPut = func(key string) bool { return strings.HasSuffix(key, "_chunk_2.json") }

	_, err := h.engine.CreateBackup(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, h.primary.Len())
	assert.True(t, h.engine.GetConfig().LastBackup.IsZero())
}

func TestRestore_SingleRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, 20)
	want := h.dataKeys(t)

	info, err := h.engine.CreateBackup(ctx)
	require.NoError(t, err)

	require.NoError(t, h.local.Set(ctx, "k000", json.RawMessage(`"changed"`)))
	require.NoError(t, h.local.Set(ctx, "extra", json.RawMessage(`1`)))

	report, err := h.engine.RestoreFromBackup(ctx, info.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 20, report.Restored)
	assert.Equal(t, ProviderPrimary, report.Provider)
	assert.Empty(t, report.FailedChunks)

	assert.Equal(t, want, h.dataKeys(t))
	v, ok := h.local.Get(ctx, "k000")
	require.True(t, ok)
	assert.JSONEq(t, `{"i":0}`, string(v))

	_, ok = h.local.Get(ctx, ConfigKey)
	assert.True(t, ok, "engine keys survive a restore")
}

func TestRestore_ChunkedSkipsBadChunk(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, 120)

	info, err := h.engine.CreateBackup(ctx)
	require.NoError(t, err)

	ts := h.now.UnixMilli()
	bad := decodeChunk(t, h.primary, fmt.Sprintf("backups/%d_chunk_1.json", ts))
	bad.Data["k050"] = json.RawMessage(`"tampered"`)
	body, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, h.primary.Put(ctx, fmt.Sprintf("backups/%d_chunk_1.json", ts), body))

	report, err := h.engine.RestoreFromBackup(ctx, info.ID, ProviderPrimary)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalChunks)
	assert.Equal(t, []int{1}, report.FailedChunks)
	assert.Equal(t, 70, report.Restored)
	assert.Len(t, h.dataKeys(t), 70)

	_, ok := h.local.Get(ctx, "k050")
	assert.False(t, ok)
}

func TestRestore_ChecksumMismatchLeavesLocalUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, 3)
	info, err := h.engine.CreateBackup(ctx)
	require.NoError(t, err)

	key := fmt.Sprintf("backups/%s.json", info.ID)
	body, err := h.primary.Get(ctx, key)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	snap.Data["k001"] = json.RawMessage(`0`)
	body, err = json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, h.primary.Put(ctx, key, body))

	require.NoError(t, h.local.Set(ctx, "extra", json.RawMessage(`1`)))
	_, err = h.engine.RestoreFromBackup(ctx, info.ID, "")
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, ok := h.local.Get(ctx, "extra")
	assert.True(t, ok)
}

func TestRestore_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.RestoreFromBackup(ctx, "12345", "")
	require.ErrorIs(t, err, ErrBackupNotFound)

	_, err = h.engine.RestoreFromBackup(ctx, "12345_chunked", "")
	require.ErrorIs(t, err, ErrBackupNotFound)

	_, err = h.engine.RestoreFromBackup(ctx, "latest", "")
	require.ErrorIs(t, err, ErrInvalidBackupID)

	_, err = h.engine.RestoreFromBackup(ctx, "12345", "tape")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestBatches(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, batches(keys, 2))
	assert.Nil(t, batches(nil, 2))
}
