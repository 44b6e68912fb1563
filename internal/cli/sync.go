package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/pocketsync/internal/cloudsync"
	"github.com/dmitrijs2005/pocketsync/internal/coordinator"
)

func (a *App) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirrors pending changes to the remote store now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.coord.ForceSyncNow(cmd.Context()); err != nil {
				return err
			}
			return a.printJSON(a.coord.SyncStatus())
		},
	}
}

type statusReport struct {
	Sync  cloudsync.Status      `json:"sync"`
	Queue cloudsync.QueueStatus `json:"queue"`
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the sync status and the pending queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.printJSON(statusReport{
				Sync:  a.coord.SyncStatus(),
				Queue: a.coord.SyncQueueStatus(),
			})
		},
	}
}

func (a *App) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Checks local storage, sync and backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h := a.coord.HealthCheck(cmd.Context())
			if err := a.printJSON(h); err != nil {
				return err
			}
			if h.Overall == coordinator.Error {
				return fmt.Errorf("unhealthy")
			}
			return nil
		},
	}
}

func (a *App) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs background sync, online checks, auto backups and the metrics endpoint",
		Args:  cobra.NoArgs,
		// the coordinator runs its own online watcher
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}
