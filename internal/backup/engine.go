package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/pocketsync/internal/localstore"
	"github.com/dmitrijs2005/pocketsync/internal/logging"
	"github.com/dmitrijs2005/pocketsync/internal/remote"
)

var (
	standardBackupsTotal = metrics.GetOrCreateCounter(`pocketsync_backups_created_total{strategy="standard"}`)
	streamedBackupsTotal = metrics.GetOrCreateCounter(`pocketsync_backups_created_total{strategy="streamed"}`)
	backupFailuresTotal  = metrics.GetOrCreateCounter(`pocketsync_backup_failures_total`)
	restoresTotal        = metrics.GetOrCreateCounter(`pocketsync_restores_total`)
	chunkFailuresTotal   = metrics.GetOrCreateCounter(`pocketsync_restore_chunk_failures_total`)
	backupDuration       = metrics.GetOrCreateHistogram(`pocketsync_backup_duration_seconds`)
)

// LocalStore is the dataset being backed up. *localstore.Store satisfies it.
type LocalStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Keys(ctx context.Context) ([]string, error)
	GetMultiple(ctx context.Context, keys []string) map[string]json.RawMessage
	SetMultiple(ctx context.Context, values map[string]json.RawMessage) error
	Clear(ctx context.Context) error
}

type Options struct {
	// BatchSize is the number of keys read or written per step and the size
	// of a chunk. Datasets above twice this size are streamed in chunks.
	BatchSize int
	// BatchDelay is slept between read and replay batches.
	BatchDelay time.Duration
	// ChunkDelay is slept between chunk uploads and chunk replays.
	ChunkDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		BatchSize:  50,
		BatchDelay: 10 * time.Millisecond,
		ChunkDelay: 100 * time.Millisecond,
	}
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	local     LocalStore
	providers map[string]remote.ObjectStore
	logger    logging.Logger
	opts      Options
	now       func() time.Time

	mu  sync.Mutex
	cfg Config
}

// New builds an Engine over the given providers, which must include
// ProviderPrimary. The persisted configuration is loaded from local.
func New(ctx context.Context, local LocalStore, providers map[string]remote.ObjectStore,
	logger logging.Logger, opts Options, options ...Option) (*Engine, error) {

	if providers[ProviderPrimary] == nil {
		return nil, ErrNoPrimaryProvider
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	e := &Engine{
		local:     local,
		providers: providers,
		logger:    logging.OrNop(logger).With("component", "backup"),
		opts:      opts,
		now:       time.Now,
		cfg:       DefaultConfig(),
	}
	for _, o := range options {
		o(e)
	}
	e.loadConfig(ctx)
	return e, nil
}

// Providers returns the configured provider names, primary first.
func (e *Engine) Providers() []string {
	names := make([]string, 0, len(e.providers))
	for name := range e.providers {
		if name != ProviderPrimary {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{ProviderPrimary}, names...)
}

func (e *Engine) provider(name string) (remote.ObjectStore, string, error) {
	if name == "" {
		name = ProviderPrimary
	}
	p, ok := e.providers[name]
	if !ok {
		return nil, name, fmt.Errorf("%q: %w", name, ErrUnknownProvider)
	}
	return p, name, nil
}

// uploadTargets is the primary provider followed by every other provider
// enabled in the config.
func (e *Engine) uploadTargets() []string {
	targets := []string{ProviderPrimary}
	for _, name := range e.GetConfig().Providers {
		if name == ProviderPrimary || slices.Contains(targets, name) {
			continue
		}
		if _, ok := e.providers[name]; !ok {
			continue
		}
		targets = append(targets, name)
	}
	return targets
}

// upload writes body to every target. Only a primary failure is an error.
func (e *Engine) upload(ctx context.Context, targets []string, key string, body []byte) error {
	for _, name := range targets {
		err := e.providers[name].Put(ctx, key, body)
		if err == nil {
			continue
		}
		if name == ProviderPrimary {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		e.logger.Warn(ctx, "secondary backup upload failed", "provider", name, "key", key, "error", err)
	}
	return nil
}

// dataKeys lists the local keys that belong in a backup, sorted.
func (e *Engine) dataKeys(ctx context.Context) ([]string, error) {
	keys, err := e.local.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local keys: %w", err)
	}
	keys = slices.DeleteFunc(keys, func(k string) bool {
		return strings.HasPrefix(k, localstore.ReservedPrefix)
	})
	sort.Strings(keys)
	return keys, nil
}

// CreateBackup snapshots every local key. Datasets larger than twice the
// batch size are streamed as chunks, smaller ones are uploaded as one object.
func (e *Engine) CreateBackup(ctx context.Context) (Info, error) {
	start := time.Now()
	log := e.logger.With("run", uuid.NewString())

	keys, err := e.dataKeys(ctx)
	if err != nil {
		backupFailuresTotal.Inc()
		return Info{}, err
	}

	ts := e.now().UnixMilli()
	targets := e.uploadTargets()

	var info Info
	if len(keys) > 2*e.opts.BatchSize {
		log.Info(ctx, "creating streamed backup", "keys", len(keys), "timestamp", ts)
		info, err = e.createStreamed(ctx, log, ts, keys, targets)
	} else {
		log.Info(ctx, "creating backup", "keys", len(keys), "timestamp", ts)
		info, err = e.createStandard(ctx, ts, keys, targets)
	}
	if err != nil {
		backupFailuresTotal.Inc()
		log.Error(ctx, "backup failed", "error", err)
		return Info{}, err
	}
	backupDuration.UpdateDuration(start)

	last := time.UnixMilli(ts).UTC()
	if _, err := e.UpdateConfig(ctx, ConfigPatch{LastBackup: &last}); err != nil {
		log.Warn(ctx, "backup created but last backup time not saved", "error", err)
	}

	log.Info(ctx, "backup created", "id", info.ID, "keys", info.Keys, "chunks", info.Chunks)
	return info, nil
}

// readAll reads keys in batches, sleeping between batches.
func (e *Engine) readAll(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	data := make(map[string]json.RawMessage, len(keys))
	for i, batch := range batches(keys, e.opts.BatchSize) {
		if i > 0 {
			if err := sleep(ctx, e.opts.BatchDelay); err != nil {
				return nil, err
			}
		}
		for k, v := range e.local.GetMultiple(ctx, batch) {
			data[k] = v
		}
	}
	return data, nil
}

func (e *Engine) createStandard(ctx context.Context, ts int64, keys []string, targets []string) (Info, error) {
	data, err := e.readAll(ctx, keys)
	if err != nil {
		return Info{}, err
	}
	sum, err := checksum(data)
	if err != nil {
		return Info{}, err
	}

	body, err := json.Marshal(Snapshot{Timestamp: ts, Version: SnapshotVersion, Checksum: sum, Data: data})
	if err != nil {
		return Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := e.upload(ctx, targets, snapshotKey(ts), body); err != nil {
		return Info{}, err
	}

	standardBackupsTotal.Inc()
	return Info{
		ID:        singleID(ts),
		Timestamp: time.UnixMilli(ts).UTC(),
		Keys:      len(data),
		Size:      int64(len(body)),
		Provider:  ProviderPrimary,
	}, nil
}

// createStreamed uploads one chunk per batch of keys. totalChunks is fixed up
// front so every chunk agrees on it even if keys vanish while reading.
func (e *Engine) createStreamed(ctx context.Context, log logging.Logger, ts int64, keys []string, targets []string) (Info, error) {
	parts := batches(keys, e.opts.BatchSize)
	total := len(parts)

	var (
		uploaded []string
		size     int64
		count    int
	)
	for i, batch := range parts {
		if i > 0 {
			if err := sleep(ctx, e.opts.ChunkDelay); err != nil {
				e.discard(ctx, log, targets, uploaded)
				return Info{}, err
			}
		}

		data := e.local.GetMultiple(ctx, batch)
		sum, err := checksum(data)
		if err != nil {
			e.discard(ctx, log, targets, uploaded)
			return Info{}, err
		}
		body, err := json.Marshal(Chunk{Timestamp: ts, ChunkIndex: i, TotalChunks: total, Checksum: sum, Data: data})
		if err != nil {
			e.discard(ctx, log, targets, uploaded)
			return Info{}, fmt.Errorf("encode chunk %d: %w", i, err)
		}

		key := chunkKey(ts, i)
		if err := e.upload(ctx, targets, key, body); err != nil {
			e.discard(ctx, log, targets, uploaded)
			return Info{}, err
		}
		uploaded = append(uploaded, key)
		size += int64(len(body))
		count += len(data)
		log.Debug(ctx, "chunk uploaded", "chunk", i, "total", total, "keys", len(data))
	}

	streamedBackupsTotal.Inc()
	return Info{
		ID:        chunkedID(ts),
		Timestamp: time.UnixMilli(ts).UTC(),
		Chunked:   true,
		Chunks:    total,
		Keys:      count,
		Size:      size,
		Provider:  ProviderPrimary,
	}, nil
}

// discard removes the chunks of an aborted streamed backup.
func (e *Engine) discard(ctx context.Context, log logging.Logger, targets []string, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		for _, name := range targets {
			if err := e.providers[name].Delete(ctx, key); err != nil {
				log.Warn(ctx, "failed to remove partial backup chunk", "provider", name, "key", key, "error", err)
			}
		}
	}
}

// RestoreFromBackup replaces the local dataset with backup id from provider
// source ("" is the primary). For chunked backups a chunk that cannot be
// fetched, verified or written is skipped and listed in the report.
func (e *Engine) RestoreFromBackup(ctx context.Context, id, source string) (RestoreReport, error) {
	store, name, err := e.provider(source)
	if err != nil {
		return RestoreReport{}, err
	}
	ts, chunked, err := parseID(id)
	if err != nil {
		return RestoreReport{}, err
	}

	log := e.logger.With("run", uuid.NewString(), "backup", id, "provider", name)
	report := RestoreReport{ID: id, Provider: name}

	if chunked {
		err = e.restoreChunked(ctx, log, store, ts, &report)
	} else {
		err = e.restoreSingle(ctx, store, ts, &report)
	}
	if err != nil {
		log.Error(ctx, "restore failed", "error", err)
		return report, err
	}

	restoresTotal.Inc()
	log.Info(ctx, "restore finished", "restored", report.Restored, "failedChunks", len(report.FailedChunks))
	return report, nil
}

func (e *Engine) restoreSingle(ctx context.Context, store remote.ObjectStore, ts int64, report *RestoreReport) error {
	body, err := fetch(ctx, store, snapshotKey(ts))
	if err != nil {
		return err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := verify(snap.Data, snap.Checksum); err != nil {
		return err
	}

	if err := e.clearLocal(ctx); err != nil {
		return err
	}
	n, err := e.replay(ctx, snap.Data)
	report.Restored = n
	return err
}

func (e *Engine) restoreChunked(ctx context.Context, log logging.Logger, store remote.ObjectStore, ts int64, report *RestoreReport) error {
	first, err := fetchChunk(ctx, store, ts, 0)
	if err != nil {
		return fmt.Errorf("read first chunk: %w", err)
	}
	report.TotalChunks = first.TotalChunks

	if err := e.clearLocal(ctx); err != nil {
		return err
	}

	for i := 0; i < first.TotalChunks; i++ {
		if i > 0 {
			if err := sleep(ctx, e.opts.ChunkDelay); err != nil {
				return err
			}
		}

		n, err := e.restoreChunk(ctx, store, ts, i, first)
		report.Restored += n
		if err != nil {
			chunkFailuresTotal.Inc()
			report.FailedChunks = append(report.FailedChunks, i)
			log.Warn(ctx, "skipping chunk", "chunk", i, "total", first.TotalChunks, "error", err)
		}
	}
	return nil
}

func (e *Engine) restoreChunk(ctx context.Context, store remote.ObjectStore, ts int64, i int, first Chunk) (int, error) {
	chunk := first
	if i > 0 {
		var err error
		if chunk, err = fetchChunk(ctx, store, ts, i); err != nil {
			return 0, err
		}
	}
	if err := verify(chunk.Data, chunk.Checksum); err != nil {
		return 0, err
	}
	return e.replay(ctx, chunk.Data)
}

// clearLocal wipes the local store but keeps the engine's own keys.
func (e *Engine) clearLocal(ctx context.Context) error {
	keys, err := e.local.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list local keys: %w", err)
	}
	var reserved []string
	for _, k := range keys {
		if strings.HasPrefix(k, localstore.ReservedPrefix) {
			reserved = append(reserved, k)
		}
	}
	keep := e.local.GetMultiple(ctx, reserved)

	if err := e.local.Clear(ctx); err != nil {
		return fmt.Errorf("clear local store: %w", err)
	}
	if len(keep) > 0 {
		if err := e.local.SetMultiple(ctx, keep); err != nil {
			return fmt.Errorf("restore reserved keys: %w", err)
		}
	}
	return nil
}

// replay writes data in batches and returns the number of keys written.
func (e *Engine) replay(ctx context.Context, data map[string]json.RawMessage) (int, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := 0
	for i, batch := range batches(keys, e.opts.BatchSize) {
		if i > 0 {
			if err := sleep(ctx, e.opts.BatchDelay); err != nil {
				return written, err
			}
		}
		values := make(map[string]json.RawMessage, len(batch))
		for _, k := range batch {
			values[k] = data[k]
		}
		if err := e.local.SetMultiple(ctx, values); err != nil {
			return written, fmt.Errorf("write restored keys: %w", err)
		}
		written += len(batch)
	}
	return written, nil
}

func fetch(ctx context.Context, store remote.ObjectStore, key string) ([]byte, error) {
	body, err := store.Get(ctx, key)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrBackupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return body, nil
}

func fetchChunk(ctx context.Context, store remote.ObjectStore, ts int64, i int) (Chunk, error) {
	body, err := fetch(ctx, store, chunkKey(ts, i))
	if err != nil {
		return Chunk{}, err
	}
	var c Chunk
	if err := json.Unmarshal(body, &c); err != nil {
		return Chunk{}, fmt.Errorf("decode chunk %d: %w", i, err)
	}
	if c.ChunkIndex != i || c.Timestamp != ts {
		return Chunk{}, fmt.Errorf("chunk %d: unexpected header %d/%d", i, c.Timestamp, c.ChunkIndex)
	}
	return c, nil
}

func batches(keys []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(keys); start += size {
		out = append(out, keys[start:min(start+size, len(keys))])
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
