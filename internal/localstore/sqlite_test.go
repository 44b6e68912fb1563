package localstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestOpenSQLite_FileDatabaseSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	b, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "k", []byte(`"v"`)))
	require.NoError(t, b.Close())

	b, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer b.Close()

	v, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"v"`), v)
}

func TestRunMigrations_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	require.NoError(t, RunMigrations(ctx, db))
	require.NoError(t, RunMigrations(ctx, db))
}

func TestSQLite_SetGetUpsert(t *testing.T) {
	b := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("1")))
	require.NoError(t, b.Set(ctx, "k", []byte("2")))

	v, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestSQLite_GetMissingReturnsNilNil(t *testing.T) {
	b := setupSQLite(t)

	v, err := b.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSQLite_KeysDeleteClear(t *testing.T) {
	b := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "b", []byte("1")))
	require.NoError(t, b.Set(ctx, "a", []byte("2")))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, b.Delete(ctx, "a"))
	require.NoError(t, b.Delete(ctx, "a"), "delete is idempotent")

	require.NoError(t, b.Clear(ctx))
	keys, err = b.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLite_BatchOps(t *testing.T) {
	b := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, b.SetMany(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}))

	got, err := b.GetMany(ctx, []string{"a", "c", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "c": []byte("3")}, got)

	require.NoError(t, b.DeleteMany(ctx, []string{"a", "b"}))
	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, keys)

	got, err = b.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_ErrorsAreWrapped(t *testing.T) {
	b := setupSQLite(t)
	ctx := context.Background()
	require.NoError(t, b.Close())

	_, err := b.Get(ctx, "k")
	require.ErrorContains(t, err, "failed to get kv[k]")

	err = b.Set(ctx, "k", []byte("1"))
	require.ErrorContains(t, err, "failed to set kv[k]")

	err = b.Delete(ctx, "k")
	require.ErrorContains(t, err, "failed to delete kv[k]")

	err = b.Clear(ctx)
	require.ErrorContains(t, err, "failed to clear kv")

	_, err = b.Keys(ctx)
	require.ErrorContains(t, err, "failed to list kv keys")
}
