package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/pocketsync/internal/cloudsync"
	"github.com/dmitrijs2005/pocketsync/internal/localstore"
)

type Level string

const (
	Healthy Level = "healthy"
	Warning Level = "warning"
	Error   Level = "error"
)

func (l Level) rank() int {
	switch l {
	case Error:
		return 2
	case Warning:
		return 1
	default:
		return 0
	}
}

type Check struct {
	Status  Level  `json:"status"`
	Message string `json:"message,omitempty"`
}

type Health struct {
	Overall      Level     `json:"overall"`
	LocalStorage Check     `json:"localStorage"`
	Sync         Check     `json:"sync"`
	Backup       Check     `json:"backup"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// HealthCheck probes the local store and inspects the sync and backup state.
// The overall level is the worst of the three.
func (c *Coordinator) HealthCheck(ctx context.Context) Health {
	h := Health{
		LocalStorage: c.checkLocal(ctx),
		Sync:         c.checkSync(),
		Backup:       c.checkBackup(),
		CheckedAt:    c.now(),
	}

	h.Overall = Healthy
	for _, chk := range []Check{h.LocalStorage, h.Sync, h.Backup} {
		if chk.Status.rank() > h.Overall.rank() {
			h.Overall = chk.Status
		}
	}
	return h
}

// checkLocal writes, reads back and deletes a throwaway key.
func (c *Coordinator) checkLocal(ctx context.Context) Check {
	id := uuid.NewString()
	key := localstore.ReservedPrefix + "health_" + id
	want, err := json.Marshal(id)
	if err != nil {
		return Check{Status: Error, Message: err.Error()}
	}

	if err := c.local.Set(ctx, key, want); err != nil {
		return Check{Status: Error, Message: fmt.Sprintf("write failed: %v", err)}
	}
	defer func() {
		if err := c.local.Remove(ctx, key); err != nil {
			c.logger.Warn(ctx, "failed to remove health probe key", "key", key, "error", err)
		}
	}()

	got, ok := c.local.Get(ctx, key)
	if !ok {
		return Check{Status: Error, Message: "probe value not found after write"}
	}
	if !bytes.Equal(bytes.TrimSpace(got), want) {
		return Check{Status: Error, Message: "probe value mismatch"}
	}
	return Check{Status: Healthy}
}

func (c *Coordinator) checkSync() Check {
	st := c.syncer.Status()
	if st.State == cloudsync.StateError {
		return Check{Status: Error, Message: st.Error}
	}

	qs := c.syncer.QueueStatus()
	if st.State == cloudsync.StatePending && qs.Length > c.opts.QueueWarnThreshold {
		return Check{Status: Warning, Message: fmt.Sprintf("%d changes waiting to sync", qs.Length)}
	}
	return Check{Status: Healthy}
}

func (c *Coordinator) checkBackup() Check {
	cfg := c.backups.GetConfig()
	if cfg.LastBackup.IsZero() {
		if cfg.AutoBackup {
			return Check{Status: Warning, Message: "auto backup is enabled but no backup exists"}
		}
		return Check{Status: Healthy}
	}

	if age := c.now().Sub(cfg.LastBackup); age > c.opts.BackupStaleAfter {
		return Check{Status: Warning, Message: fmt.Sprintf("last backup is %s old", age.Round(time.Hour))}
	}
	return Check{Status: Healthy}
}
