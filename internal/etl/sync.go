package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ── Engine ─────────────────────────────────────────────────
// Orchestrates: schema → table → [fetch page → normalize → write → checkpoint]*.
//
// INIT → SCHEMA_READY → (PAGE_FETCH ⇄ PAGE_WRITE) → DONE, FAILED from any
// non-terminal state. Source and destination are closed on every exit.

// State is a sync engine state.
type State string

const (
	StateInit        State = "INIT"
	StateSchemaReady State = "SCHEMA_READY"
	StatePageFetch   State = "PAGE_FETCH"
	StatePageWrite   State = "PAGE_WRITE"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// SyncError carries the collection and the state in which a run failed.
type SyncError struct {
	Collection string
	Phase      State
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s (%s): %v", e.Collection, e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Options are the engine's tunables.
type Options struct {
	BatchSize      int
	SessionTimeout time.Duration
	// Location is the zone timestamps are converted into. Nil means time.Local.
	Location *time.Location
}

// SyncResult is the outcome of one engine run.
type SyncResult struct {
	RunID          string        `json:"runId"`
	Collection     string        `json:"collection"`
	State          State         `json:"state"`
	TableCreated   bool          `json:"tableCreated"`
	Batches        int           `json:"batches"`
	Documents      int           `json:"documents"`
	ProcessedCount int64         `json:"processedCount"`
	Restarted      bool          `json:"restarted"`
	Duration       time.Duration `json:"duration"`
}

// Engine runs a single collection sync. An Engine owns its Source and Dest:
// both are closed when Run returns, so an Engine is good for one run.
type Engine struct {
	Source      SourceReader
	Dest        DestinationWriter
	Checkpoints CheckpointStore
	Options     Options
	Logger      *zap.Logger
}

// NewEngine wires an engine for one run.
func NewEngine(src SourceReader, dest DestinationWriter, store CheckpointStore, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Source: src, Dest: dest, Checkpoints: store, Options: opts, Logger: logger}
}

// Run syncs collection end-to-end, resuming from its checkpoint.
func (e *Engine) Run(ctx context.Context, collection string) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{RunID: uuid.NewString(), Collection: collection, State: StateInit}
	log := e.logger().With(zap.String("collection", collection), zap.String("run_id", result.RunID))

	defer func() {
		e.release(log)
		result.Duration = time.Since(start)
	}()

	fail := func(cause error) error {
		phase := result.State
		result.State = StateFailed
		log.Error("sync failed", zap.String("phase", string(phase)), zap.Error(cause))
		return &SyncError{Collection: collection, Phase: phase, Err: cause}
	}

	if e.Options.BatchSize <= 0 {
		return result, fail(fmt.Errorf("batch size must be positive, got %d", e.Options.BatchSize))
	}

	// 1. Schema and table.
	schema, err := e.Source.GetSchema(ctx, collection)
	if err != nil {
		return result, fail(fmt.Errorf("fetch schema: %w", err))
	}
	columns := TranslateSchema(schema)
	created, err := EnsureTable(ctx, e.Dest, collection, columns)
	if err != nil {
		return result, fail(fmt.Errorf("ensure table: %w", err))
	}
	result.TableCreated = created
	if created {
		log.Info("table created", zap.Int("columns", len(columns)))
	}
	e.enter(log, result, StateSchemaReady)

	// 2. Resume point.
	committed, err := e.Checkpoints.Load(ctx, collection)
	if err != nil {
		return result, fail(fmt.Errorf("load checkpoint: %w", err))
	}
	result.ProcessedCount = committed.ProcessedCount
	if committed.Cursor != nil {
		log.Info("resuming from checkpoint", zap.Int64("processed", committed.ProcessedCount))
	}

	normalizer := NewNormalizer(e.Options.Location)

	// 3. Page loop.
	for {
		e.enter(log, result, StatePageFetch)
		page, err := e.Source.FetchPage(ctx, collection, committed.Cursor, e.Options.BatchSize, e.Options.SessionTimeout)
		if err != nil {
			if errors.Is(err, ErrCursorExpired) && committed.Cursor != nil && !result.Restarted {
				log.Warn("cursor expired, restarting pagination from the beginning",
					zap.Int64("discarded_processed", committed.ProcessedCount))
				result.Restarted = true
				committed = Checkpoint{UpdatedAt: time.Now()}
				result.ProcessedCount = 0
				if err := e.Checkpoints.Save(ctx, collection, committed); err != nil {
					return result, fail(fmt.Errorf("save checkpoint: %w", err))
				}
				continue
			}
			return result, fail(e.keep(ctx, collection, committed, fmt.Errorf("fetch page: %w", err)))
		}
		if len(page.Documents) == 0 {
			break
		}

		e.enter(log, result, StatePageWrite)
		docs, err := normalizer.NormalizeAll(page.Documents)
		if err != nil {
			return result, fail(e.keep(ctx, collection, committed, fmt.Errorf("normalize page: %w", err)))
		}
		if err := e.Dest.BatchInsert(ctx, collection, docs); err != nil {
			return result, fail(e.keep(ctx, collection, committed, fmt.Errorf("batch insert: %w", err)))
		}

		next := Checkpoint{
			Cursor:         page.NextCursor,
			ProcessedCount: committed.ProcessedCount + int64(len(docs)),
			UpdatedAt:      time.Now(),
		}
		if err := e.Checkpoints.Save(ctx, collection, next); err != nil {
			return result, fail(fmt.Errorf("save checkpoint: %w", err))
		}
		committed = next
		result.Batches++
		result.Documents += len(docs)
		result.ProcessedCount = next.ProcessedCount
		log.Info("batch committed",
			zap.Int("batch", result.Batches),
			zap.Int("documents", len(docs)),
			zap.Int64("processed", next.ProcessedCount))

		// Without a continuation cursor the next fetch would start over.
		if page.NextCursor == nil {
			break
		}
	}

	e.enter(log, result, StateDone)
	log.Info("sync complete",
		zap.Int("batches", result.Batches),
		zap.Int("documents", result.Documents),
		zap.Int64("processed", result.ProcessedCount))
	return result, nil
}

// keep re-persists the last committed checkpoint before a failure is reported.
// It still runs when ctx is cancelled.
func (e *Engine) keep(ctx context.Context, collection string, committed Checkpoint, cause error) error {
	if err := e.Checkpoints.Save(context.WithoutCancel(ctx), collection, committed); err != nil {
		return errors.Join(cause, fmt.Errorf("save checkpoint: %w", err))
	}
	return cause
}

func (e *Engine) enter(log *zap.Logger, result *SyncResult, s State) {
	result.State = s
	log.Debug("state", zap.String("phase", string(s)))
}

func (e *Engine) release(log *zap.Logger) {
	if e.Source != nil {
		if err := e.Source.Close(); err != nil {
			log.Warn("close source", zap.Error(err))
		}
	}
	if e.Dest != nil {
		if err := e.Dest.Close(); err != nil {
			log.Warn("close destination", zap.Error(err))
		}
	}
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
