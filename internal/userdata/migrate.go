package userdata

import (
	"context"
	"errors"
	"fmt"
)

// legacyKeys maps pre-namespace keys to the data type they become.
var legacyKeys = []struct {
	oldKey   string
	dataType string
}{
	{"setup_data", TypeSetup},
	{"transactions", TypeTransactions},
	{"categories", TypeCategories},
	{"budgets", TypeBudgets},
	{"app_settings", TypeSettings},
}

type MigrationReport struct {
	Migrated   []string `json:"migrated"`
	Skipped    []string `json:"skipped"`
	BackupKeys []string `json:"backupKeys"`
}

func legacyBackupKey(oldKey string, millis int64) string {
	return fmt.Sprintf("legacy_backup_%s_%d", oldKey, millis)
}

// MigrateLegacyData copies every legacy value into this user's namespace
// when the namespaced value does not exist yet, and keeps a timestamped copy
// of the original next to it. Keys whose destination already exists are
// skipped, so repeated calls write no further copies. The legacy keys
// themselves are left in place.
func (n *Namespace) MigrateLegacyData(ctx context.Context) (MigrationReport, error) {
	report := MigrationReport{Migrated: []string{}, Skipped: []string{}, BackupKeys: []string{}}
	var errs []error

	for _, lk := range legacyKeys {
		raw, ok := n.store.GetItem(ctx, lk.oldKey)
		if !ok {
			continue
		}
		if _, exists := n.store.GetItem(ctx, n.Key(lk.dataType)); exists {
			report.Skipped = append(report.Skipped, lk.oldKey)
			continue
		}

		if err := n.SetUserData(ctx, lk.dataType, raw); err != nil {
			errs = append(errs, fmt.Errorf("migrate %s: %w", lk.oldKey, err))
			continue
		}
		backupKey := legacyBackupKey(lk.oldKey, n.now().UnixMilli())
		if err := n.store.SetItem(ctx, backupKey, raw); err != nil {
			errs = append(errs, fmt.Errorf("back up %s: %w", lk.oldKey, err))
			continue
		}

		report.Migrated = append(report.Migrated, lk.oldKey)
		report.BackupKeys = append(report.BackupKeys, backupKey)
		n.logger.Info(ctx, "migrated legacy data", "from", lk.oldKey, "type", lk.dataType, "backup", backupKey)
	}

	return report, errors.Join(errs...)
}
