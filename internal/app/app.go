// Package app assembles the storage engine from a Config: the local store,
// the remote mirror, the backup providers, the sync engine and the
// coordinator on top of them. Serve runs it as a long-lived process with a
// metrics endpoint until the process is signalled.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/dmitrijs2005/pocketsync/internal/backup"
	"github.com/dmitrijs2005/pocketsync/internal/cloudsync"
	"github.com/dmitrijs2005/pocketsync/internal/config"
	"github.com/dmitrijs2005/pocketsync/internal/coordinator"
	"github.com/dmitrijs2005/pocketsync/internal/filex"
	"github.com/dmitrijs2005/pocketsync/internal/localstore"
	"github.com/dmitrijs2005/pocketsync/internal/logging"
	"github.com/dmitrijs2005/pocketsync/internal/remote"
	"github.com/dmitrijs2005/pocketsync/internal/syncqueue"
)

// shutdownFlushTimeout bounds the last sync attempt made on shutdown.
const shutdownFlushTimeout = 10 * time.Second

// openS3 is swapped in tests.
var openS3 = func(ctx context.Context, cfg remote.S3Config) (remote.ObjectStore, error) {
	return remote.NewS3Store(ctx, cfg)
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	local   *localstore.Store
	coord   *coordinator.Coordinator
	closers []io.Closer
}

func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{config: cfg, logger: logger}

	backend, err := openLocal(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("local store init error: %w", err)
	}
	a.local = localstore.New(backend, logger)
	a.closers = append(a.closers, a.local)

	primary, err := openRemote(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("remote store init error: %w", err)
	}

	providers := map[string]remote.ObjectStore{backup.ProviderPrimary: primary}
	if cfg.SecondaryDSN != "" {
		pg, err := remote.OpenPostgres(ctx, cfg.SecondaryDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("secondary provider init error: %w", err)
		}
		providers[backup.ProviderSecondary] = pg
		a.closers = append(a.closers, pg)
	}

	queue := syncqueue.New(syncqueue.WithMaxSize(cfg.QueueMaxSize), syncqueue.WithMaxAge(cfg.QueueMaxAge))
	syncer := cloudsync.New(ctx, primary, queue, a.local, logger, cloudsync.Config{
		DebounceDelay:    cfg.SyncDebounce,
		SyncInterval:     cfg.SyncInterval,
		BatchSize:        cfg.SyncBatchSize,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
	})

	engine, err := backup.New(ctx, a.local, providers, logger, backup.Options{
		BatchSize:  cfg.BackupBatchSize,
		BatchDelay: cfg.BackupBatchDelay,
		ChunkDelay: cfg.BackupChunkDelay,
	})
	if err != nil {
		syncer.Destroy()
		a.Close()
		return nil, fmt.Errorf("backup engine init error: %w", err)
	}

	a.coord = coordinator.New(a.local, syncer, engine, primary, logger, coordinator.Options{
		OnlineCheckInterval: cfg.OnlineCheckInterval,
		AutoBackupInterval:  cfg.AutoBackupCheckInterval,
	})
	return a, nil
}

func openLocal(ctx context.Context, cfg *config.Config) (localstore.Backend, error) {
	if cfg.LocalBackend != config.BackendMemory {
		if err := filex.EnsureParentDir(cfg.LocalPath); err != nil {
			return nil, err
		}
	}

	switch cfg.LocalBackend {
	case config.BackendSQLite:
		return localstore.OpenSQLite(ctx, cfg.LocalPath)
	case config.BackendBolt:
		return localstore.OpenBolt(cfg.LocalPath)
	case config.BackendMemory:
		return localstore.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: local backend %q", config.ErrInvalidConfig, cfg.LocalBackend)
	}
}

func openRemote(ctx context.Context, cfg *config.Config) (remote.ObjectStore, error) {
	switch cfg.RemoteBackend {
	case config.BackendS3:
		return openS3(ctx, remote.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
	case config.BackendMemory:
		return remote.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: remote backend %q", config.ErrInvalidConfig, cfg.RemoteBackend)
	}
}

func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Close stops the coordinator and releases the stores.
func (a *App) Close() error {
	if a.coord != nil {
		a.coord.Destroy()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Handler serves /metrics in Prometheus text format and /healthz with the
// coordinator health check.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := a.coord.HealthCheck(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if h.Overall == coordinator.Error {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(h); err != nil {
			a.logger.Warn(r.Context(), "failed to write health response", "error", err)
		}
	})
	return mux
}

func (a *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{Addr: a.config.MetricsAddr, Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(ctx, "metrics server shutdown error", "error", err)
		}
	}()

	a.logger.Info(ctx, "metrics server listening", "addr", a.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "metrics server error", "error", err)
		cancelFunc()
	}
}

// Serve runs the background loops and the metrics server until ctx is done
// or the process receives SIGINT, SIGTERM or SIGQUIT. Pending mutations get
// one last sync attempt before returning.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	a.logger.Info(ctx, "starting pocketsync", "local", a.config.LocalBackend, "remote", a.config.RemoteBackend)
	a.initSignalHandler(cancelFunc)
	a.coord.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.startMetricsServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	wg.Wait()

	a.flush(context.WithoutCancel(ctx))
	a.logger.Info(ctx, "pocketsync stopped")
	return nil
}

func (a *App) flush(ctx context.Context) {
	if a.coord.SyncQueueStatus().Length == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownFlushTimeout)
	defer cancel()

	if err := a.coord.ForceSyncNow(ctx); err != nil {
		a.logger.Warn(ctx, "pending changes were not synced before shutdown", "error", err)
	}
}
