// Package coordinator is the single entry point applications use for storage.
//
// Reads and writes go to the local store first; every mutation is then
// queued for the cloud mirror without blocking the caller. Reads that miss
// locally fall back to the remote copy and hydrate the local store. Sync and
// backup controls pass through to the underlying engines.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/pocketsync/internal/backup"
	"github.com/dmitrijs2005/pocketsync/internal/cloudsync"
	"github.com/dmitrijs2005/pocketsync/internal/localstore"
	"github.com/dmitrijs2005/pocketsync/internal/logging"
	"github.com/dmitrijs2005/pocketsync/internal/remote"
	"github.com/dmitrijs2005/pocketsync/internal/syncqueue"
)

type Options struct {
	OnlineCheckInterval time.Duration
	OnlineCheckTimeout  time.Duration
	AutoBackupInterval  time.Duration
	// QueueWarnThreshold is the pending queue length above which the health
	// check reports a warning.
	QueueWarnThreshold int
	// BackupStaleAfter is the age of the last backup that triggers a warning.
	BackupStaleAfter time.Duration
}

func DefaultOptions() Options {
	return Options{
		OnlineCheckInterval: 30 * time.Second,
		OnlineCheckTimeout:  3 * time.Second,
		AutoBackupInterval:  time.Hour,
		QueueWarnThreshold:  50,
		BackupStaleAfter:    7 * 24 * time.Hour,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.OnlineCheckInterval <= 0 {
		o.OnlineCheckInterval = d.OnlineCheckInterval
	}
	if o.OnlineCheckTimeout <= 0 {
		o.OnlineCheckTimeout = d.OnlineCheckTimeout
	}
	if o.AutoBackupInterval <= 0 {
		o.AutoBackupInterval = d.AutoBackupInterval
	}
	if o.QueueWarnThreshold <= 0 {
		o.QueueWarnThreshold = d.QueueWarnThreshold
	}
	if o.BackupStaleAfter <= 0 {
		o.BackupStaleAfter = d.BackupStaleAfter
	}
	return o
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type Coordinator struct {
	local   *localstore.Store
	syncer  *cloudsync.Syncer
	backups *backup.Engine
	remote  remote.ObjectStore
	logger  logging.Logger
	opts    Options
	now     func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New wires the coordinator. remoteStore is the store the online watcher
// probes; it is normally the one the syncer mirrors into.
func New(local *localstore.Store, syncer *cloudsync.Syncer, backups *backup.Engine,
	remoteStore remote.ObjectStore, logger logging.Logger, opts Options, options ...Option) *Coordinator {

	c := &Coordinator{
		local:   local,
		syncer:  syncer,
		backups: backups,
		remote:  remoteStore,
		logger:  logging.OrNop(logger).With("component", "coordinator"),
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func isReserved(key string) bool {
	return strings.HasPrefix(key, localstore.ReservedPrefix)
}

// GetItem returns the local value of key, falling back to the remote copy.
// A remote hit is written back locally. It never fails.
func (c *Coordinator) GetItem(ctx context.Context, key string) (json.RawMessage, bool) {
	if v, ok := c.local.Get(ctx, key); ok {
		return v, true
	}
	return c.hydrate(ctx, key)
}

func (c *Coordinator) hydrate(ctx context.Context, key string) (json.RawMessage, bool) {
	v, ok := c.syncer.Download(ctx, key)
	if !ok {
		return nil, false
	}
	if err := c.local.Set(ctx, key, v); err != nil {
		c.logger.Warn(ctx, "failed to cache remote value locally", "key", key, "error", err)
	}
	return v, true
}

// SetItem writes key locally and queues it for the mirror. Only the local
// write can fail.
func (c *Coordinator) SetItem(ctx context.Context, key string, value json.RawMessage) error {
	if err := c.local.Set(ctx, key, value); err != nil {
		return err
	}
	c.syncer.Enqueue(ctx, syncqueue.Item{Key: key, Value: value, Operation: syncqueue.OpSet})
	return nil
}

func (c *Coordinator) RemoveItem(ctx context.Context, key string) error {
	if err := c.local.Remove(ctx, key); err != nil {
		return err
	}
	c.syncer.Enqueue(ctx, syncqueue.Item{Key: key, Operation: syncqueue.OpRemove})
	return nil
}

// Clear removes every application key locally, drops pending mutations and
// deletes the remote mirror directly. The remote step is not retried.
func (c *Coordinator) Clear(ctx context.Context) error {
	keys, err := c.GetAllKeys(ctx)
	if err != nil {
		return err
	}
	if err := c.local.RemoveMultiple(ctx, keys); err != nil {
		return fmt.Errorf("clear local store: %w", err)
	}
	c.syncer.DropPending()

	if err := c.syncer.ClearRemote(ctx); err != nil {
		return fmt.Errorf("clear remote store: %w", err)
	}
	c.logger.Info(ctx, "storage cleared", "keys", len(keys))
	return nil
}

// GetAllKeys lists the application keys held locally.
func (c *Coordinator) GetAllKeys(ctx context.Context) ([]string, error) {
	keys, err := c.local.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(keys, isReserved), nil
}

// GetMultiple reads keys in one local batch; local misses fall back to the
// remote copy one by one.
func (c *Coordinator) GetMultiple(ctx context.Context, keys []string) map[string]json.RawMessage {
	out := c.local.GetMultiple(ctx, keys)
	for _, k := range keys {
		if _, ok := out[k]; ok {
			continue
		}
		if v, ok := c.hydrate(ctx, k); ok {
			out[k] = v
		}
	}
	return out
}

func (c *Coordinator) SetMultiple(ctx context.Context, values map[string]json.RawMessage) error {
	if err := c.local.SetMultiple(ctx, values); err != nil {
		return err
	}
	for k, v := range values {
		c.syncer.Enqueue(ctx, syncqueue.Item{Key: k, Value: v, Operation: syncqueue.OpSet})
	}
	return nil
}

func (c *Coordinator) RemoveMultiple(ctx context.Context, keys []string) error {
	if err := c.local.RemoveMultiple(ctx, keys); err != nil {
		return err
	}
	for _, k := range keys {
		c.syncer.Enqueue(ctx, syncqueue.Item{Key: k, Operation: syncqueue.OpRemove})
	}
	return nil
}

func (c *Coordinator) ForceSyncNow(ctx context.Context) error {
	return c.syncer.ForceSync(ctx)
}

func (c *Coordinator) SyncStatus() cloudsync.Status {
	return c.syncer.Status()
}

func (c *Coordinator) SyncQueueStatus() cloudsync.QueueStatus {
	return c.syncer.QueueStatus()
}

func (c *Coordinator) SetOnlineStatus(ctx context.Context, online bool) {
	c.syncer.SetOnline(ctx, online)
}

func (c *Coordinator) CreateBackup(ctx context.Context) (backup.Info, error) {
	return c.backups.CreateBackup(ctx)
}

func (c *Coordinator) RestoreFromBackup(ctx context.Context, id, source string) (backup.RestoreReport, error) {
	return c.backups.RestoreFromBackup(ctx, id, source)
}

func (c *Coordinator) ListBackups(ctx context.Context, source string, limit int) ([]backup.Info, error) {
	return c.backups.ListBackups(ctx, source, limit)
}

func (c *Coordinator) DeleteBackup(ctx context.Context, id, source string) error {
	return c.backups.DeleteBackup(ctx, id, source)
}

func (c *Coordinator) UpdateBackupConfig(ctx context.Context, patch backup.ConfigPatch) (backup.Config, error) {
	return c.backups.UpdateConfig(ctx, patch)
}

func (c *Coordinator) GetBackupConfig() backup.Config {
	return c.backups.GetConfig()
}

func (c *Coordinator) GetBackupStats(ctx context.Context) (backup.Stats, error) {
	return c.backups.GetBackupStats(ctx)
}

// CheckOnline probes the remote store once and updates the sync engine.
func (c *Coordinator) CheckOnline(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.opts.OnlineCheckTimeout)
	defer cancel()

	err := remote.Ping(ctx, c.remote)
	if err != nil {
		c.logger.Debug(ctx, "remote probe failed", "error", err)
	}
	online := err == nil
	c.syncer.SetOnline(ctx, online)
	return online
}

// Start runs the background loops: the periodic sync tick, the online
// watcher and the auto-backup check. It returns immediately; Destroy stops
// the loops.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	loops := []func(context.Context){c.syncer.Start, c.watchOnline, c.watchAutoBackup}
	for _, loop := range loops {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			loop(ctx)
		}()
	}
}

func (c *Coordinator) watchOnline(ctx context.Context) {
	c.CheckOnline(ctx)

	ticker := time.NewTicker(c.opts.OnlineCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) watchAutoBackup(ctx context.Context) {
	c.runAutoBackup(ctx)

	ticker := time.NewTicker(c.opts.AutoBackupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runAutoBackup(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) runAutoBackup(ctx context.Context) {
	ran, err := c.backups.RunAutoBackup(ctx)
	if err != nil {
		c.logger.Error(ctx, "auto backup failed", "error", err)
		return
	}
	if ran {
		c.logger.Info(ctx, "auto backup completed")
	}
}

// Destroy stops the background loops and the sync engine. Pending mutations
// that were not mirrored yet are dropped.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.syncer.Destroy()
	c.wg.Wait()
}
