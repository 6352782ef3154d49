package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"essync/internal/config"
	"essync/internal/service"
)

// IndicesOptions holds flags for the indices command.
type IndicesOptions struct {
	*RootOptions
	Date   string
	Prefix string
}

// NewIndicesCommand creates the indices command.
func NewIndicesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndicesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "indices",
		Short: "List the indices a cycle would sync",
		Long: `List the source indices named <prefix>*<date>, sorted.

Example:
  essync indices --prefix logs- --date 2024-01-15`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndices(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "index date suffix YYYY-MM-DD (default yesterday)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "index name prefix (default schedule.index_prefix)")

	return cmd
}

func runIndices(cmd *cobra.Command, opts *IndicesOptions) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	prefix := opts.Prefix
	if !cmd.Flags().Changed("prefix") {
		prefix = a.cfg.Schedule.IndexPrefix
	}
	date := opts.Date
	if date == "" {
		loc, err := config.LoadLocation(a.cfg.Schedule.Timezone)
		if err != nil {
			return WrapExitError(ExitCommandError, "schedule timezone", err)
		}
		date = service.Yesterday(loc, time.Now())
	}

	names, err := a.svc.Discover(commandContext(cmd), prefix, date)
	if err != nil {
		return WrapExitError(ExitFailure, "discover indices", err)
	}
	if names == nil {
		names = []string{}
	}
	p := printer{format: opts.Format, w: cmd.OutOrStdout()}
	return p.emit(names, func(w io.Writer) error {
		for _, n := range names {
			if _, err := fmt.Fprintln(w, n); err != nil {
				return err
			}
		}
		return nil
	})
}
