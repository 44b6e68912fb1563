package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/pocketsync/internal/backup"
)

func (a *App) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Creates, lists and restores snapshots of the local store",
	}
	cmd.AddCommand(
		a.backupCreateCmd(),
		a.backupListCmd(),
		a.backupRestoreCmd(),
		a.backupDeleteCmd(),
		a.backupStatsCmd(),
		a.backupConfigCmd(),
	)
	return cmd
}

func (a *App) backupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Uploads a snapshot to every configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := a.coord.CreateBackup(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(info)
		},
	}
}

func (a *App) backupListCmd() *cobra.Command {
	var (
		source string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.coord.ListBackups(cmd.Context(), source, limit)
			if err != nil {
				return err
			}
			return a.printJSON(list)
		},
	}
	cmd.Flags().StringVar(&source, "source", backup.ProviderPrimary, "backup provider")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of backups to list (0 lists all)")
	return cmd
}

func (a *App) backupRestoreCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "restore [id]",
		Short: "Replaces local data with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.coord.RestoreFromBackup(cmd.Context(), args[0], source)
			if err != nil {
				return err
			}
			return a.printJSON(report)
		},
	}
	cmd.Flags().StringVar(&source, "source", backup.ProviderPrimary, "backup provider")
	return cmd
}

func (a *App) backupDeleteCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Deletes a backup and all of its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.coord.DeleteBackup(cmd.Context(), args[0], source); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "backup %s deleted\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", backup.ProviderPrimary, "backup provider")
	return cmd
}

func (a *App) backupStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarizes backups across providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.coord.GetBackupStats(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(stats)
		},
	}
}

func (a *App) backupConfigCmd() *cobra.Command {
	var (
		auto        bool
		frequency   string
		attachments bool
		providers   []string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Prints the backup configuration, updating it when flags are given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var patch backup.ConfigPatch
			changed := false
			flags := cmd.Flags()
			if flags.Changed("auto") {
				patch.AutoBackup = &auto
				changed = true
			}
			if flags.Changed("frequency") {
				f := backup.Frequency(frequency)
				patch.Frequency = &f
				changed = true
			}
			if flags.Changed("attachments") {
				patch.IncludeAttachments = &attachments
				changed = true
			}
			if flags.Changed("providers") {
				patch.Providers = providers
				changed = true
			}

			if !changed {
				return a.printJSON(a.coord.GetBackupConfig())
			}
			cfg, err := a.coord.UpdateBackupConfig(cmd.Context(), patch)
			if err != nil {
				return err
			}
			return a.printJSON(cfg)
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "enable automatic backups")
	cmd.Flags().StringVar(&frequency, "frequency", "", "automatic backup frequency (daily, weekly, monthly)")
	cmd.Flags().BoolVar(&attachments, "attachments", false, "include attachments in backups")
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "providers to upload backups to")
	return cmd
}
