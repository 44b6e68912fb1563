package cloudsync

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/pocketsync/internal/syncqueue"
)

// Phase is the state of the drain state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDebouncing Phase = "debouncing"
	PhaseDraining   Phase = "draining"
	PhaseBackoff    Phase = "backoff"
	PhaseError      Phase = "error"
)

// State is the user-facing sync state.
type State string

const (
	StateSynced  State = "synced"
	StatePending State = "pending"
	StateError   State = "error"
)

// Status is what callers observe about the sync engine. It is persisted
// locally so it survives restarts.
type Status struct {
	State        State     `json:"state"`
	LastSyncedAt time.Time `json:"lastSyncedAt,omitempty"`
	Error        string    `json:"error,omitempty"`
	Attempt      int       `json:"attempt"`
}

type QueueStatus struct {
	Length       int       `json:"length"`
	MaxSize      int       `json:"maxSize"`
	AtCapacity   bool      `json:"atCapacity"`
	Oldest       time.Time `json:"oldest,omitzero"`
	InProgress   bool      `json:"inProgress"`
	Online       bool      `json:"online"`
	Phase        Phase     `json:"phase"`
	ForcedDrains int64     `json:"forcedDrains"`
}

// ItemResult is the outcome of mirroring one queue item.
type ItemResult struct {
	Item syncqueue.Item
	Err  error
}

// Config tunes the Syncer. Zero fields take the defaults.
type Config struct {
	DebounceDelay    time.Duration
	SyncInterval     time.Duration
	BatchSize        int
	MaxRetryAttempts int
	// BaseBackoff is the first retry delay; retry n waits BaseBackoff * 2^n.
	BaseBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceDelay:    2 * time.Second,
		SyncInterval:     30 * time.Second,
		BatchSize:        20,
		MaxRetryAttempts: 3,
		BaseBackoff:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = d.DebounceDelay
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	return c
}

// remoteRecord is the object body stored under data/{key}.
type remoteRecord struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
