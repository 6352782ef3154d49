package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"essync/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// SyncService: per-collection syncs and the daily cycle
// ─────────────────────────────────────────────────────────────

// ErrAlreadyRunning matches an AlreadyRunningError with errors.Is.
var ErrAlreadyRunning = errors.New("collection sync already running")

// AlreadyRunningError reports a refused sync and when the running one started.
type AlreadyRunningError struct {
	Collection string
	Since      time.Time
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s: %v since %s (%s ago)", e.Collection, ErrAlreadyRunning,
		e.Since.Format(time.RFC3339), time.Since(e.Since).Round(time.Second))
}

func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// SourceOpener opens a fresh source reader.
type SourceOpener func() (etl.SourceReader, error)

// DestinationOpener opens a fresh destination writer.
type DestinationOpener func() (etl.DestinationWriter, error)

// SyncService runs engine syncs. The engine closes its reader and writer,
// so every sync opens new ones.
type SyncService struct {
	openSource  SourceOpener
	openDest    DestinationOpener
	checkpoints etl.CheckpointStore
	opts        etl.Options
	logger      *zap.Logger
	running     inflight
}

func NewSyncService(
	openSource SourceOpener,
	openDest DestinationOpener,
	checkpoints etl.CheckpointStore,
	opts etl.Options,
	logger *zap.Logger,
) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		openSource:  openSource,
		openDest:    openDest,
		checkpoints: checkpoints,
		opts:        opts,
		logger:      logger,
	}
}

// SyncCollection syncs one collection from its checkpoint to the end.
func (s *SyncService) SyncCollection(ctx context.Context, collection string) (*etl.SyncResult, error) {
	if since, ok := s.running.begin(collection, time.Now()); !ok {
		return nil, &AlreadyRunningError{Collection: collection, Since: since}
	}
	defer s.running.end(collection)

	src, err := s.openSource()
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	dest, err := s.openDest()
	if err != nil {
		if cerr := src.Close(); cerr != nil {
			s.logger.Warn("close source", zap.Error(cerr))
		}
		return nil, fmt.Errorf("open destination: %w", err)
	}
	return etl.NewEngine(src, dest, s.checkpoints, s.opts, s.logger).Run(ctx, collection)
}

// Discover lists the source collections matching prefix and date.
func (s *SyncService) Discover(ctx context.Context, prefix, date string) ([]string, error) {
	src, err := s.openSource()
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warn("close source", zap.Error(err))
		}
	}()
	return etl.DiscoverCollections(ctx, src, prefix, date)
}

// CollectionFailure is one collection that did not finish in a cycle.
type CollectionFailure struct {
	Collection string `json:"collection"`
	Err        error  `json:"-"`
	Message    string `json:"error"`
}

// CycleReport summarizes one discovery-then-sync cycle.
type CycleReport struct {
	Date      string              `json:"date"`
	Prefix    string              `json:"prefix"`
	Matched   []string            `json:"matched"`
	Succeeded []string            `json:"succeeded"`
	Failed    []CollectionFailure `json:"failed"`
	Results   []*etl.SyncResult   `json:"results"`
	Duration  time.Duration       `json:"duration"`
}

// Err joins the failures of the cycle, or returns nil.
func (r *CycleReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// RunCycle syncs every collection matching prefix and date in order. One
// collection failing does not stop the others. The returned error is set
// only when discovery fails or ctx ends the cycle early.
func (s *SyncService) RunCycle(ctx context.Context, date, prefix string) (*CycleReport, error) {
	start := time.Now()
	report := &CycleReport{Date: date, Prefix: prefix}
	log := s.logger.With(zap.String("date", date), zap.String("prefix", prefix))

	matched, err := s.Discover(ctx, prefix, date)
	if err != nil {
		return report, fmt.Errorf("discover collections: %w", err)
	}
	report.Matched = matched
	log.Info("cycle started", zap.Int("collections", len(matched)))

	for _, name := range matched {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		res, err := s.SyncCollection(ctx, name)
		if res != nil {
			report.Results = append(report.Results, res)
		}
		if err != nil {
			report.Failed = append(report.Failed, CollectionFailure{Collection: name, Err: err, Message: err.Error()})
			continue
		}
		report.Succeeded = append(report.Succeeded, name)
	}

	report.Duration = time.Since(start)
	log.Info("cycle finished",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// DailyJob returns a job that runs the cycle for the day before it fires.
func (s *SyncService) DailyJob(prefix string, loc *time.Location) func(context.Context) {
	return func(ctx context.Context) {
		date := Yesterday(loc, time.Now())
		report, err := s.RunCycle(ctx, date, prefix)
		if err != nil {
			s.logger.Error("daily cycle aborted", zap.String("date", date), zap.Error(err))
			return
		}
		for _, f := range report.Failed {
			s.logger.Warn("collection failed", zap.String("collection", f.Collection), zap.Error(f.Err))
		}
	}
}

// Active lists the collection syncs in progress, oldest first.
func (s *SyncService) Active() []ActiveSync {
	return s.running.active()
}

// Wait blocks until in-flight syncs finish or ctx is done.
func (s *SyncService) Wait(ctx context.Context) {
	s.running.wait(ctx)
}

// Yesterday returns the YYYY-MM-DD date of the day before now in loc.
func Yesterday(loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()-1, 12, 0, 0, 0, loc).Format(time.DateOnly)
}
