package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Prints the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok := a.coord.GetItem(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Fprintln(a.out, string(v))
			return nil
		},
	}
}

func (a *App) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Long:  "Sets the value for a key. A value that is not a JSON document is stored as a JSON string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.coord.SetItem(ctx, args[0], parseValue(args[1])); err != nil {
				return err
			}
			a.flush(ctx)
			fmt.Fprintln(a.out, "set successfully")
			return nil
		},
	}
}

func (a *App) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [key]...",
		Short: "Removes keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.coord.RemoveMultiple(ctx, args); err != nil {
				return err
			}
			a.flush(ctx)
			fmt.Fprintf(a.out, "removed %d key(s)\n", len(args))
			return nil
		},
	}
}

func (a *App) keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Lists the keys held locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := a.coord.GetAllKeys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(a.out, k)
			}
			return nil
		},
	}
}

func (a *App) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Removes every key locally and from the remote mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			if err := a.coord.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "storage cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm removal of all data")
	return cmd
}
