package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"essync/internal/etl"
	"essync/internal/storage"
)

// CheckpointOptions holds flags for the checkpoint commands.
type CheckpointOptions struct {
	*RootOptions
	Index string
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect sync checkpoints",
	}
	cmd.AddCommand(newCheckpointShowCommand(rootOpts))
	return cmd
}

func newCheckpointShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print stored checkpoints",
		Long: `Print the checkpoint of one index, or of every index in the checkpoint store.

Example:
  essync checkpoint show
  essync checkpoint show --index logs-2024-01-15 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointShow(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Index, "index", "i", "", "only this index")

	return cmd
}

type checkpointEntry struct {
	Collection string         `json:"collection"`
	Checkpoint etl.Checkpoint `json:"checkpoint"`
}

func runCheckpointShow(cmd *cobra.Command, opts *CheckpointOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Sync)
	if err != nil {
		return WrapExitError(ExitCommandError, "open checkpoint store", err)
	}
	defer store.Close()
	ctx := commandContext(cmd)

	var entries []checkpointEntry
	if opts.Index != "" {
		cp, err := store.Load(ctx, opts.Index)
		if err != nil {
			return WrapExitError(ExitCommandError, "read checkpoints", err)
		}
		entries = append(entries, checkpointEntry{Collection: opts.Index, Checkpoint: cp})
	} else {
		all, err := store.All(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "read checkpoints", err)
		}
		entries = make([]checkpointEntry, 0, len(all))
		for _, n := range slices.Sorted(maps.Keys(all)) {
			entries = append(entries, checkpointEntry{Collection: n, Checkpoint: all[n]})
		}
	}

	p := printer{format: opts.Format, w: cmd.OutOrStdout()}
	return p.emit(entries, func(w io.Writer) error {
		for _, e := range entries {
			cursor := "-"
			if e.Checkpoint.Cursor != nil {
				cursor = *e.Checkpoint.Cursor
			}
			updated := "-"
			if !e.Checkpoint.UpdatedAt.IsZero() {
				updated = e.Checkpoint.UpdatedAt.Format("2006-01-02 15:04:05")
			}
			if _, err := fmt.Fprintf(w, "%s\tprocessed=%d\tupdated=%s\tcursor=%s\n",
				e.Collection, e.Checkpoint.ProcessedCount, updated, cursor); err != nil {
				return err
			}
		}
		return nil
	})
}
