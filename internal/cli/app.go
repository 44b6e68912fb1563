package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/pocketsync/internal/coordinator"
)

// ServeFunc runs the long-lived process until it is signalled.
type ServeFunc func(ctx context.Context) error

type App struct {
	coord *coordinator.Coordinator
	serve ServeFunc
	out   io.Writer
}

func NewApp(coord *coordinator.Coordinator, serve ServeFunc, out io.Writer) *App {
	return &App{coord: coord, serve: serve, out: out}
}

// Root builds the command tree. Every command except serve probes the
// remote store once before it runs, so reads can hydrate and writes can be
// mirrored right away.
func (a *App) Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "pocketsync",
		Short: "local-first key-value storage with cloud sync and backups",
		Long: `pocketsync keeps every value in a local store and mirrors changes
to a remote object store in the background. Snapshots of the whole local
store can be written to one or more backup providers and restored later.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.coord.CheckOnline(cmd.Context())
		},
	}
	root.SetOut(a.out)

	root.AddCommand(a.getCmd(), a.setCmd(), a.rmCmd(), a.keysCmd(), a.clearCmd())
	root.AddCommand(a.syncCmd(), a.statusCmd(), a.healthCmd())
	root.AddCommand(a.backupCmd(), a.userCmd(), a.serveCmd())
	return root
}

// Execute runs the command tree with args.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.Root()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// flush mirrors pending mutations before a one-shot command exits; the
// queue does not outlive the process.
func (a *App) flush(ctx context.Context) {
	if a.coord.SyncQueueStatus().Length == 0 {
		return
	}
	if !a.coord.SyncQueueStatus().Online {
		fmt.Fprintln(a.out, "offline: change stored locally only")
		return
	}
	if err := a.coord.ForceSyncNow(ctx); err != nil {
		fmt.Fprintf(a.out, "stored locally, sync failed: %v\n", err)
	}
}

// parseValue accepts a JSON document; anything else is stored as a string.
func parseValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
