// Package syncqueue holds pending mutations waiting to be mirrored to the
// remote store.
//
// The queue keeps at most one item per key: a new mutation for a key replaces
// the pending one and moves to the back, so FIFO position follows the arrival
// of the latest mutation while the value is always the newest. Failed items
// are put back at the front so they are retried before newer work.
package syncqueue

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	DefaultMaxSize = 100
	DefaultMaxAge  = 24 * time.Hour
)

type Operation string

const (
	OpSet    Operation = "set"
	OpRemove Operation = "remove"
)

// Item is one pending mutation. Value is nil for OpRemove.
type Item struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value,omitempty"`
	Operation  Operation       `json:"operation"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

type Queue struct {
	mu      sync.Mutex
	items   []Item
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

type Option func(*Queue)

func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.maxAge = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(opts ...Option) *Queue {
	q := &Queue{maxSize: DefaultMaxSize, maxAge: DefaultMaxAge, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Add drops any pending item for the same key and appends item.
// A zero EnqueuedAt is stamped with the current time.
func (q *Queue) Add(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now()
	}
	q.removeLocked(item.Key)
	q.items = append(q.items, item)
}

func (q *Queue) removeLocked(key string) {
	for i := range q.items {
		if q.items[i].Key == key {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// GetBatch pops up to n items from the front.
func (q *Queue) GetBatch(n int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]Item, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0:0], q.items[n:]...)
	return batch
}

// RequeueFailed puts items back at the front, in their given order, with a
// fresh timestamp. An item whose key already has a newer pending mutation is
// dropped so that the newer value is not overwritten by the stale retry.
func (q *Queue) RequeueFailed(items []Item) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make(map[string]bool, len(q.items))
	for _, it := range q.items {
		pending[it.Key] = true
	}

	now := q.now()
	front := make([]Item, 0, len(items))
	for _, it := range items {
		if pending[it.Key] {
			continue
		}
		pending[it.Key] = true
		it.EnqueuedAt = now
		front = append(front, it)
	}
	q.items = append(front, q.items...)
}

// IsAtCapacity reports whether the queue holds max size items or more.
// Callers react by forcing an immediate drain.
func (q *Queue) IsAtCapacity() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.maxSize
}

// Cleanup drops items older than the max age and returns how many it dropped.
func (q *Queue) Cleanup() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.maxAge)
	kept := q.items[:0]
	for _, it := range q.items {
		if it.EnqueuedAt.After(cutoff) {
			kept = append(kept, it)
		}
	}
	dropped := len(q.items) - len(kept)
	q.items = kept
	return dropped
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) MaxSize() int {
	return q.maxSize
}

// Items returns a copy of the pending items, front first.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Oldest returns the smallest EnqueuedAt, or the zero time when empty.
func (q *Queue) Oldest() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	var oldest time.Time
	for _, it := range q.items {
		if oldest.IsZero() || it.EnqueuedAt.Before(oldest) {
			oldest = it.EnqueuedAt
		}
	}
	return oldest
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
