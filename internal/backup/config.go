package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/pocketsync/internal/localstore"
)

// ConfigKey is the local key the backup configuration is persisted under.
const ConfigKey = localstore.ReservedPrefix + "backup_config"

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Interval is the minimum time between two automatic backups.
func (f Frequency) Interval() time.Duration {
	switch f {
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

type Config struct {
	AutoBackup         bool      `json:"autoBackup"`
	Frequency          Frequency `json:"frequency"`
	LastBackup         time.Time `json:"lastBackup,omitzero"`
	IncludeAttachments bool      `json:"includeAttachments"`
	Providers          []string  `json:"providers"`
}

func DefaultConfig() Config {
	return Config{
		AutoBackup: false,
		Frequency:  Weekly,
		Providers:  []string{ProviderPrimary},
	}
}

func (c Config) clone() Config {
	c.Providers = slices.Clone(c.Providers)
	return c
}

// ConfigPatch is a partial update; nil fields are left unchanged.
type ConfigPatch struct {
	AutoBackup         *bool
	Frequency          *Frequency
	LastBackup         *time.Time
	IncludeAttachments *bool
	Providers          []string
}

func (p ConfigPatch) apply(c Config) (Config, error) {
	if p.AutoBackup != nil {
		c.AutoBackup = *p.AutoBackup
	}
	if p.Frequency != nil {
		if !p.Frequency.Valid() {
			return c, fmt.Errorf("%q: %w", *p.Frequency, ErrInvalidFrequency)
		}
		c.Frequency = *p.Frequency
	}
	if p.LastBackup != nil {
		c.LastBackup = *p.LastBackup
	}
	if p.IncludeAttachments != nil {
		c.IncludeAttachments = *p.IncludeAttachments
	}
	if p.Providers != nil {
		c.Providers = slices.Clone(p.Providers)
	}
	return c, nil
}

func (e *Engine) loadConfig(ctx context.Context) {
	raw, ok := e.local.Get(ctx, ConfigKey)
	if !ok {
		return
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		e.logger.Warn(ctx, "ignoring unreadable backup config", "error", err)
		return
	}
	if !cfg.Frequency.Valid() {
		cfg.Frequency = DefaultConfig().Frequency
	}
	e.cfg = cfg
}

func (e *Engine) persistConfig(ctx context.Context, cfg Config) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode backup config: %w", err)
	}
	if err := e.local.Set(ctx, ConfigKey, b); err != nil {
		return fmt.Errorf("persist backup config: %w", err)
	}
	return nil
}

func (e *Engine) GetConfig() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}

// UpdateConfig applies patch and persists the result. On any error the
// in-memory configuration is left untouched.
func (e *Engine) UpdateConfig(ctx context.Context, patch ConfigPatch) (Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := patch.apply(e.cfg.clone())
	if err != nil {
		return e.cfg.clone(), err
	}
	if err := e.persistConfig(ctx, next); err != nil {
		return e.cfg.clone(), err
	}
	e.cfg = next
	return next.clone(), nil
}

// AutoBackupDue reports whether an automatic backup should run at now.
func (e *Engine) AutoBackupDue(now time.Time) bool {
	cfg := e.GetConfig()
	if !cfg.AutoBackup {
		return false
	}
	return cfg.LastBackup.IsZero() || now.Sub(cfg.LastBackup) >= cfg.Frequency.Interval()
}

// RunAutoBackup creates a backup if one is due. It reports whether a backup
// was made.
func (e *Engine) RunAutoBackup(ctx context.Context) (bool, error) {
	if !e.AutoBackupDue(e.now()) {
		return false, nil
	}
	if _, err := e.CreateBackup(ctx); err != nil {
		return false, err
	}
	return true, nil
}
