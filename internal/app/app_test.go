package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/pocketsync/internal/config"
	"github.com/dmitrijs2005/pocketsync/internal/coordinator"
	"github.com/dmitrijs2005/pocketsync/internal/remote"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.LocalBackend = config.BackendMemory
	cfg.RemoteBackend = config.BackendMemory
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.SyncDebounce = time.Hour
	return cfg
}

// withS3 makes the s3 backend resolve to rs for the duration of the test.
func withS3(t *testing.T, rs remote.ObjectStore) {
	t.Helper()
	orig := openS3
	openS3 = func(context.Context, remote.S3Config) (remote.ObjectStore, error) { return rs, nil }
	t.Cleanup(func() { openS3 = orig })
}

func TestNew_MemoryBackends(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	c := a.Coordinator()
	require.NoError(t, c.SetItem(ctx, "a", json.RawMessage(`1`)))
	v, ok := c.GetItem(ctx, "a")
	require.True(t, ok)
	assert.JSONEq(t, `1`, string(v))
}

func TestNew_FileBackends(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{config.BackendSQLite, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			cfg := memoryConfig()
			cfg.LocalBackend = backend
			cfg.LocalPath = filepath.Join(t.TempDir(), "nested", "store.db")

			a, err := New(ctx, cfg, nil)
			require.NoError(t, err)
			require.NoError(t, a.Coordinator().SetItem(ctx, "k", json.RawMessage(`"v"`)))
			require.NoError(t, a.Close())

			reopened, err := New(ctx, cfg, nil)
			require.NoError(t, err)
			defer reopened.Close()

			v, ok := reopened.Coordinator().GetItem(ctx, "k")
			require.True(t, ok)
			assert.JSONEq(t, `"v"`, string(v))
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.LocalBackend = "floppy"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg = memoryConfig()
	cfg.RemoteBackend = "ftp"
	_, err = New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNew_S3InitFailure(t *testing.T) {
	orig := openS3
	openS3 = func(context.Context, remote.S3Config) (remote.ObjectStore, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { openS3 = orig })

	cfg := memoryConfig()
	cfg.RemoteBackend = config.BackendS3
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "no credentials")
}

func TestHandler(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var h coordinator.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, coordinator.Healthy, h.Overall)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestServe_FlushesPendingOnShutdown(t *testing.T) {
	rs := remote.NewMemoryStore()
	withS3(t, rs)

	cfg := memoryConfig()
	cfg.RemoteBackend = config.BackendS3
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	c := a.Coordinator()
	require.Eventually(t, func() bool { return c.SyncQueueStatus().Online }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.SetItem(context.Background(), "pending", json.RawMessage(`42`)))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	body, err := rs.Get(context.Background(), remote.DataKey("pending"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "42")
	assert.Equal(t, 0, c.SyncQueueStatus().Length)
}
