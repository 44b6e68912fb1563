package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/pocketsync/internal/localstore"
	"github.com/dmitrijs2005/pocketsync/internal/logging"
	"github.com/dmitrijs2005/pocketsync/internal/remote"
	"github.com/dmitrijs2005/pocketsync/internal/syncqueue"
)

// StatusKey is the local key the sync status is persisted under.
const StatusKey = localstore.ReservedPrefix + "sync_status"

var (
	drainsTotal        = metrics.GetOrCreateCounter(`pocketsync_sync_drains_total`)
	drainFailuresTotal = metrics.GetOrCreateCounter(`pocketsync_sync_drain_failures_total`)
	itemsSyncedTotal   = metrics.GetOrCreateCounter(`pocketsync_sync_items_total{result="ok"}`)
	itemsFailedTotal   = metrics.GetOrCreateCounter(`pocketsync_sync_items_total{result="failed"}`)
	itemsExpiredTotal  = metrics.GetOrCreateCounter(`pocketsync_sync_items_expired_total`)
	drainDuration      = metrics.GetOrCreateHistogram(`pocketsync_sync_drain_duration_seconds`)
)

// StatusStore persists the sync status. *localstore.Store satisfies it.
type StatusStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Tests substitute a manual scheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Option func(*Syncer)

func WithScheduler(s Scheduler) Option {
	return func(sy *Syncer) { sy.sched = s }
}

func WithClock(now func() time.Time) Option {
	return func(sy *Syncer) { sy.now = now }
}

type Syncer struct {
	remote remote.ObjectStore
	queue  *syncqueue.Queue
	store  StatusStore
	logger logging.Logger
	cfg    Config
	sched  Scheduler
	now    func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	phase      Phase
	online     bool
	inProgress bool
	attempt    int
	debounce   Timer
	retry      Timer
	status     Status
	destroyed  bool

	forcedDrains atomic.Int64
	fetches      singleflight.Group
}

// New builds a Syncer. It starts offline; callers flip it with SetOnline.
// A previously persisted status is restored from store.
func New(ctx context.Context, rs remote.ObjectStore, q *syncqueue.Queue, store StatusStore,
	logger logging.Logger, cfg Config, opts ...Option) *Syncer {

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Syncer{
		remote:  rs,
		queue:   q,
		store:   store,
		logger:  logging.OrNop(logger).With("component", "cloudsync"),
		cfg:     cfg.withDefaults(),
		sched:   realScheduler{},
		now:     time.Now,
		baseCtx: baseCtx,
		cancel:  cancel,
		phase:   PhaseIdle,
		status:  Status{State: StateSynced},
	}
	for _, o := range opts {
		o(s)
	}
	s.loadStatus(ctx)
	return s
}

func (s *Syncer) loadStatus(ctx context.Context) {
	raw, ok := s.store.Get(ctx, StatusKey)
	if !ok {
		return
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		s.logger.Warn(ctx, "ignoring unreadable sync status", "error", err)
		return
	}
	s.status = st
}

func (s *Syncer) persistStatus(ctx context.Context, st Status) {
	b, err := json.Marshal(st)
	if err != nil {
		s.logger.Error(ctx, "failed to encode sync status", "error", err)
		return
	}
	if err := s.store.Set(ctx, StatusKey, b); err != nil {
		s.logger.Warn(ctx, "failed to persist sync status", "error", err)
	}
}

// Start runs the periodic tick until ctx is done or the syncer is destroyed.
func (s *Syncer) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Syncer) tick(ctx context.Context) {
	if n := s.queue.Cleanup(); n > 0 {
		itemsExpiredTotal.Add(n)
		s.logger.Warn(ctx, "expired stale queue items", "count", n)
	}

	s.mu.Lock()
	ready := s.online && s.phase == PhaseIdle && !s.destroyed
	s.mu.Unlock()

	if ready && s.queue.Len() > 0 {
		_ = s.drain(ctx, "periodic")
	}
}

// Enqueue records a local mutation for mirroring.
func (s *Syncer) Enqueue(ctx context.Context, item syncqueue.Item) {
	s.queue.Add(item)

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	if s.phase == PhaseError {
		s.attempt = 0
		s.phase = PhaseIdle
	}
	if s.status.State == StateSynced {
		s.status.State = StatePending
	}

	if s.queue.IsAtCapacity() {
		s.stopDebounceLocked()
		s.mu.Unlock()

		s.forcedDrains.Add(1)
		s.logger.Info(ctx, "queue at capacity, forcing sync", "length", s.queue.Len())
		go func() { _ = s.drain(s.baseCtx, "capacity") }()
		return
	}

	if s.online && s.phase != PhaseBackoff {
		s.armDebounceLocked()
	}
	s.mu.Unlock()
}

func (s *Syncer) armDebounceLocked() {
	s.stopDebounceLocked()
	if s.phase == PhaseIdle {
		s.phase = PhaseDebouncing
	}
	s.debounce = s.sched.AfterFunc(s.cfg.DebounceDelay, s.onDebounce)
}

func (s *Syncer) stopDebounceLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.phase == PhaseDebouncing {
		s.phase = PhaseIdle
	}
}

func (s *Syncer) onDebounce() {
	s.mu.Lock()
	s.debounce = nil
	if s.phase == PhaseDebouncing {
		s.phase = PhaseIdle
	}
	s.mu.Unlock()

	_ = s.drain(s.baseCtx, "debounce")
}

func (s *Syncer) onRetry() {
	s.mu.Lock()
	s.retry = nil
	if s.phase == PhaseBackoff {
		s.phase = PhaseIdle
	}
	s.mu.Unlock()

	_ = s.drain(s.baseCtx, "retry")
}

// ForceSync clears any backoff or error state and drains synchronously.
func (s *Syncer) ForceSync(ctx context.Context) error {
	s.mu.Lock()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.stopDebounceLocked()
	if s.phase == PhaseBackoff || s.phase == PhaseError {
		s.phase = PhaseIdle
	}
	if !s.inProgress {
		s.attempt = 0
	}
	s.mu.Unlock()

	return s.drain(ctx, "force")
}

// SetOnline suspends or resumes draining. Going online with pending work
// schedules a debounced drain.
func (s *Syncer) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.online == online {
		return
	}
	s.online = online
	s.logger.Info(ctx, "online status changed", "online", online)

	if !online {
		s.stopDebounceLocked()
		return
	}
	if s.queue.Len() > 0 && s.phase != PhaseBackoff {
		s.armDebounceLocked()
	}
}

func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// drain runs performSync unless another drain is in flight, the syncer is
// offline or destroyed.
func (s *Syncer) drain(ctx context.Context, reason string) error {
	s.mu.Lock()
	switch {
	case s.destroyed:
		s.mu.Unlock()
		return ErrDestroyed
	case s.inProgress:
		s.mu.Unlock()
		s.logger.Debug(ctx, "drain skipped, already running", "reason", reason)
		return ErrSyncInProgress
	case !s.online:
		s.mu.Unlock()
		return ErrOffline
	}
	s.inProgress = true
	s.phase = PhaseDraining
	s.mu.Unlock()

	drainsTotal.Inc()
	start := time.Now()
	s.logger.Debug(ctx, "drain started", "reason", reason, "length", s.queue.Len())

	err := s.performSync(ctx)
	drainDuration.UpdateDuration(start)

	s.mu.Lock()
	s.inProgress = false
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if err == nil {
		s.attempt = 0
		s.phase = PhaseIdle
		s.status = Status{State: StateSynced, LastSyncedAt: s.now()}
		if s.queue.Len() > 0 {
			s.status.State = StatePending
			if s.online {
				s.armDebounceLocked()
			}
		}
	} else {
		drainFailuresTotal.Inc()
		s.scheduleRetryLocked(ctx, err)
	}
	st := s.status
	s.mu.Unlock()

	s.persistStatus(ctx, st)
	return err
}

// scheduleRetryLocked moves to Backoff, or to Error once the retry budget is
// spent. Retry n (0-based) waits BaseBackoff * 2^n.
func (s *Syncer) scheduleRetryLocked(ctx context.Context, err error) {
	s.status.Error = err.Error()
	if s.attempt >= s.cfg.MaxRetryAttempts {
		s.phase = PhaseError
		s.status.State = StateError
		s.status.Attempt = s.attempt
		s.logger.Error(ctx, "sync failed, giving up", "attempts", s.attempt, "error", err)
		return
	}

	delay := s.cfg.BaseBackoff << s.attempt
	s.attempt++
	s.phase = PhaseBackoff
	s.status.State = StatePending
	s.status.Attempt = s.attempt
	s.logger.Warn(ctx, "sync failed, retrying", "attempt", s.attempt, "delay", delay, "error", err)

	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = s.sched.AfterFunc(delay, s.onRetry)
}

func (s *Syncer) performSync(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := s.queue.GetBatch(s.cfg.BatchSize)
		if len(batch) == 0 {
			return nil
		}

		results := s.syncBatch(ctx, batch)

		var failed []syncqueue.Item
		var firstErr error
		for _, r := range results {
			if r.Err == nil {
				continue
			}
			failed = append(failed, r.Item)
			if firstErr == nil {
				firstErr = r.Err
			}
		}
		itemsSyncedTotal.Add(len(batch) - len(failed))
		itemsFailedTotal.Add(len(failed))

		if len(failed) > 0 {
			s.queue.RequeueFailed(failed)
			return &BatchError{Failed: len(failed), Total: len(batch), Err: firstErr}
		}
	}
}

func (s *Syncer) syncBatch(ctx context.Context, batch []syncqueue.Item) []ItemResult {
	results := make([]ItemResult, len(batch))

	var g errgroup.Group
	for i, item := range batch {
		g.Go(func() error {
			results[i] = ItemResult{Item: item, Err: s.apply(ctx, item)}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Syncer) apply(ctx context.Context, item syncqueue.Item) error {
	key := remote.DataKey(item.Key)

	switch item.Operation {
	case syncqueue.OpSet:
		body, err := json.Marshal(remoteRecord{Key: item.Key, Value: item.Value, UpdatedAt: item.EnqueuedAt})
		if err != nil {
			return fmt.Errorf("encode %q: %w", item.Key, err)
		}
		if err := s.remote.Put(ctx, key, body); err != nil {
			return fmt.Errorf("upload %q: %w", item.Key, err)
		}
	case syncqueue.OpRemove:
		if err := s.remote.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %q: %w", item.Key, err)
		}
	default:
		return fmt.Errorf("item %q: unknown operation %q", item.Key, item.Operation)
	}
	return nil
}

// Download fetches the mirrored value of key. It never fails: offline,
// missing and unreadable objects are all a miss. Concurrent calls for the
// same key share one remote fetch.
func (s *Syncer) Download(ctx context.Context, key string) (json.RawMessage, bool) {
	if !s.Online() {
		return nil, false
	}

	v, err, _ := s.fetches.Do(key, func() (any, error) {
		body, err := s.remote.Get(ctx, remote.DataKey(key))
		if err != nil {
			return nil, err
		}
		var rec remoteRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		if !json.Valid(rec.Value) {
			return nil, fmt.Errorf("decode %q: invalid value", key)
		}
		return rec.Value, nil
	})
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			s.logger.Warn(ctx, "remote download failed", "key", key, "error", err)
		}
		return nil, false
	}
	return v.(json.RawMessage), true
}

// ClearRemote deletes every mirrored object.
func (s *Syncer) ClearRemote(ctx context.Context) error {
	objs, err := s.remote.List(ctx, remote.DataPrefix)
	if err != nil {
		return fmt.Errorf("list remote data: %w", err)
	}

	var errs []error
	for _, o := range objs {
		if err := s.remote.Delete(ctx, o.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", o.Key, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info(ctx, "remote data cleared", "objects", len(objs))
	return nil
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Syncer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Syncer) QueueStatus() QueueStatus {
	s.mu.Lock()
	qs := QueueStatus{
		InProgress: s.inProgress,
		Online:     s.online,
		Phase:      s.phase,
	}
	s.mu.Unlock()

	qs.Length = s.queue.Len()
	qs.MaxSize = s.queue.MaxSize()
	qs.AtCapacity = s.queue.IsAtCapacity()
	qs.Oldest = s.queue.Oldest()
	qs.ForcedDrains = s.forcedDrains.Load()
	return qs
}

// DropPending discards queued mutations without mirroring them.
func (s *Syncer) DropPending() {
	s.mu.Lock()
	s.stopDebounceLocked()
	s.mu.Unlock()
	s.queue.Clear()
}

// Destroy stops all timers and drops pending work. The syncer is unusable
// afterwards.
func (s *Syncer) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.phase = PhaseIdle
	s.mu.Unlock()

	s.cancel()
	s.queue.Clear()
}
