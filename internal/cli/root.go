package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"essync/internal/config"
	"essync/internal/dbclient"
	"essync/internal/etl"
	"essync/internal/etl/sources"
	"essync/internal/logger"
	"essync/internal/service"
	"essync/internal/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvOnly    bool
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the essync command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "essync",
		Short: "Copy search indices into relational tables",
		Long: `essync copies every document of a source index (Elasticsearch or MongoDB)
into a table of the same name in MySQL, Postgres or SQLite, resuming from a
checkpoint file after interruptions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "essync.yaml", "path to YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.EnvOnly, "env-only", false, "ignore the config file and read ESSYNC_* variables only")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewIndicesCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))

	return cmd
}

// app is what every command builds from the global flags.
type app struct {
	cfg         config.Config
	logger      *zap.Logger
	logs        *logger.Logger
	checkpoints storage.Store
	svc         *service.SyncService
	loc         *time.Location
}

// loadConfig reads the configuration selected by the global flags.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvOnly)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newApp(opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logs, err := logger.New(cfg.Log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "build logger", err)
	}
	log := logs.Logger
	loc, err := config.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		_ = logs.Close()
		return nil, WrapExitError(ExitCommandError, "sync timezone", err)
	}

	checkpoints, err := storage.Open(cfg.Sync)
	if err != nil {
		_ = logs.Close()
		return nil, WrapExitError(ExitCommandError, "open checkpoint store", err)
	}
	svc := service.NewSyncService(
		func() (etl.SourceReader, error) { return sources.Open(cfg.Source, log) },
		func() (etl.DestinationWriter, error) {
			w, err := dbclient.NewWriter(cfg.Destination, log)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		checkpoints,
		etl.Options{
			BatchSize:      cfg.Sync.BatchSize,
			SessionTimeout: cfg.Sync.SessionTimeout,
			Location:       loc,
		},
		log,
	)
	return &app{cfg: cfg, logger: log, logs: logs, checkpoints: checkpoints, svc: svc, loc: loc}, nil
}

func (a *app) close() {
	if err := a.checkpoints.Close(); err != nil {
		a.logger.Warn("close checkpoint store", zap.Error(err))
	}
	_ = a.logs.Close()
}
