package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"essync/internal/config"
	"essync/internal/service"
)

const (
	// logRotateSpec starts a new log file at midnight in the schedule location.
	logRotateSpec = "0 0 * * *"
	shutdownWait  = 30 * time.Second
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Date   string
	Prefix string
	Once   bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily cycle on a schedule or once",
		Long: `Discover the indices named <prefix>*<date> and sync each of them.

Without --once, waits for schedule.sync_time in schedule.timezone every day and
syncs the previous day's indices, until interrupted. With --once, runs a single
cycle now (for --date, default yesterday) and exits non-zero if any index failed.

Example:
  essync run
  essync run --once --prefix logs- --date 2024-01-15`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Date != "" && !opts.Once {
				return NewExitError(ExitCommandError, "--date requires --once")
			}
			if opts.Date != "" {
				if _, err := time.Parse(time.DateOnly, opts.Date); err != nil {
					return WrapExitError(ExitCommandError, "invalid --date", err)
				}
			}
			return runCycle(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "index date suffix YYYY-MM-DD (with --once; default yesterday)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "index name prefix (default schedule.index_prefix)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run one cycle now and exit")

	return cmd
}

func runCycle(cmd *cobra.Command, opts *RunOptions) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	prefix := opts.Prefix
	if !cmd.Flags().Changed("prefix") {
		prefix = a.cfg.Schedule.IndexPrefix
	}
	loc, err := config.LoadLocation(a.cfg.Schedule.Timezone)
	if err != nil {
		return WrapExitError(ExitCommandError, "schedule timezone", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Once {
		date := opts.Date
		if date == "" {
			date = service.Yesterday(loc, time.Now())
		}
		return runOnce(ctx, cmd, a, opts.Format, date, prefix)
	}
	return runScheduled(ctx, a, prefix, loc)
}

func runOnce(ctx context.Context, cmd *cobra.Command, a *app, format, date, prefix string) error {
	report, err := a.svc.RunCycle(ctx, date, prefix)
	p := printer{format: format, w: cmd.OutOrStdout()}
	if perr := p.emit(report, func(w io.Writer) error { return printReport(w, report) }); perr != nil {
		return perr
	}
	if err != nil {
		return WrapExitError(ExitFailure, "cycle "+date, err)
	}
	if len(report.Failed) > 0 {
		return WrapExitError(ExitFailure,
			fmt.Sprintf("%d of %d indices failed", len(report.Failed), len(report.Matched)), report.Err())
	}
	return nil
}

func runScheduled(ctx context.Context, a *app, prefix string, loc *time.Location) error {
	hour, minute, err := config.ParseClock(a.cfg.Schedule.SyncTime)
	if err != nil {
		return WrapExitError(ExitCommandError, "schedule sync_time", err)
	}

	sched := service.NewScheduler(a.logger, ctx, loc)
	id, err := sched.AddDaily(hour, minute, a.svc.DailyJob(prefix, loc))
	if err != nil {
		return WrapExitError(ExitCommandError, "schedule daily cycle", err)
	}
	if a.cfg.Log.File != "" && a.cfg.Log.RotateDaily {
		if _, err := sched.Add(logRotateSpec, func(context.Context) {
			if err := a.logs.Rotate(); err != nil {
				a.logger.Warn("rotate log file", zap.Error(err))
			}
		}); err != nil {
			return WrapExitError(ExitCommandError, "schedule log rotation", err)
		}
	}
	sched.Start()
	a.logger.Info("waiting for next cycle",
		zap.String("prefix", prefix),
		zap.String("sync_time", a.cfg.Schedule.SyncTime),
		zap.String("timezone", loc.String()),
		zap.Time("next", sched.Next(id)))

	<-ctx.Done()
	if active := a.svc.Active(); len(active) > 0 {
		a.logger.Info("shutting down, waiting for running syncs", zap.Any("active", active))
	} else {
		a.logger.Info("shutting down")
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	a.svc.Wait(waitCtx)
	if waitCtx.Err() != nil {
		a.logger.Warn("syncs still running at shutdown", zap.Any("active", a.svc.Active()))
	}
	sched.Stop()
	return nil
}

func printReport(w io.Writer, r *service.CycleReport) error {
	if _, err := fmt.Fprintf(w, "cycle date=%s prefix=%q matched=%d succeeded=%d failed=%d %s\n",
		r.Date, r.Prefix, len(r.Matched), len(r.Succeeded), len(r.Failed), r.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, res := range r.Results {
		if err := printResult(w, res); err != nil {
			return err
		}
	}
	for _, f := range r.Failed {
		if _, err := fmt.Fprintf(w, "FAILED\t%s\t%s\n", f.Collection, f.Message); err != nil {
			return err
		}
	}
	return nil
}

// commandContext returns the command's context, or Background when run
// outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
