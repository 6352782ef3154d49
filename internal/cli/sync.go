package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"essync/internal/etl"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Index string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one index into its table",
		Long: `Sync one index from its checkpoint to the end, creating the destination
table on first run.

Example:
  essync sync --index logs-2024-01-15
  essync sync --index logs-2024-01-15 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Index, "index", "i", "", "index to sync (required)")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.svc.SyncCollection(ctx, opts.Index)
	if res != nil {
		p := printer{format: opts.Format, w: cmd.OutOrStdout()}
		if perr := p.emit(res, func(w io.Writer) error { return printResult(w, res) }); perr != nil {
			return perr
		}
	}
	if err != nil {
		return WrapExitError(ExitFailure, "sync "+opts.Index, err)
	}
	return nil
}

func printResult(w io.Writer, r *etl.SyncResult) error {
	_, err := fmt.Fprintf(w, "%s\t%s\tbatches=%d documents=%d processed=%d restarted=%t table_created=%t %s\n",
		r.Collection, r.State, r.Batches, r.Documents, r.ProcessedCount, r.Restarted, r.TableCreated, r.Duration.Round(time.Millisecond))
	return err
}
