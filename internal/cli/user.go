package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/pocketsync/internal/userdata"
)

func (a *App) userCmd() *cobra.Command {
	var (
		userID string
		ns     *userdata.Namespace
	)
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Reads and writes data in a user's namespace",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.coord.CheckOnline(cmd.Context())
			var err error
			ns, err = userdata.New(a.coord, userID, nil)
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "user id")

	get := &cobra.Command{
		Use:   "get [type]",
		Short: "Prints a data type of the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok := ns.GetUserData(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("no %s data for user %q", args[0], userID)
			}
			fmt.Fprintln(a.out, string(v))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set [type] [value]",
		Short: "Stores a data type of the user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := ns.SetUserData(ctx, args[0], parseValue(args[1])); err != nil {
				return err
			}
			a.flush(ctx)
			fmt.Fprintln(a.out, "set successfully")
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm [type]",
		Short: "Removes a data type of the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := ns.RemoveUserData(ctx, args[0]); err != nil {
				return err
			}
			a.flush(ctx)
			return nil
		},
	}

	profile := &cobra.Command{
		Use:   "profile",
		Short: "Summarizes the user's data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.printJSON(ns.GetUserProfile(cmd.Context()))
		},
	}

	existing := &cobra.Command{
		Use:   "has-data",
		Short: "Reports whether setup, transactions or categories exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.printJSON(ns.HasExistingData(cmd.Context()))
		},
	}

	welcome := &cobra.Command{
		Use:   "welcome",
		Short: "Marks the welcome flow as complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := ns.SetWelcomeComplete(ctx); err != nil {
				return err
			}
			a.flush(ctx)
			return nil
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Moves pre-namespace data into the user's namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			report, err := ns.MigrateLegacyData(ctx)
			if err != nil {
				return err
			}
			a.flush(ctx)
			return a.printJSON(report)
		},
	}

	deleteAll := &cobra.Command{
		Use:   "delete-all",
		Short: "Removes every data type of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ok := ns.DeleteAllUserData(ctx)
			a.flush(ctx)
			if !ok {
				return fmt.Errorf("some data of user %q could not be removed", userID)
			}
			fmt.Fprintf(a.out, "data of user %s removed\n", userID)
			return nil
		},
	}

	cmd.AddCommand(get, set, rm, profile, existing, welcome, migrate, deleteAll)
	return cmd
}
