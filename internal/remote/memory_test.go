package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetDeleteList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, DataKey("a"), []byte(`1`)))
	require.NoError(t, s.Put(ctx, DataKey("b"), []byte(`22`)))
	require.NoError(t, s.Put(ctx, BackupPrefix+"1.json", []byte(`{}`)))

	body, err := s.Get(ctx, "data/a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`1`), body)

	objs, err := s.List(ctx, DataPrefix)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "data/a", objs[0].Key)
	assert.Equal(t, int64(2), objs[1].Size)

	require.NoError(t, s.Delete(ctx, "data/a"))
	require.NoError(t, s.Delete(ctx, "data/a"))

	_, err = s.Get(ctx, "data/a")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, s.Len())
}

func TestDataKeyRoundTrip(t *testing.T) {
	k, ok := LocalKey(DataKey("user_1_setup"))
	require.True(t, ok)
	assert.Equal(t, "user_1_setup", k)

	_, ok = LocalKey("backups/1.json")
	assert.False(t, ok)
}

func TestPing_FallsBackToList(t *testing.T) {
	require.NoError(t, Ping(context.Background(), NewMemoryStore()))
}
