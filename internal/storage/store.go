package storage

import (
	"context"
	"fmt"

	"essync/internal/config"
	"essync/internal/etl"
)

// Store is a checkpoint store that can also list its entries.
type Store interface {
	etl.CheckpointStore
	All(ctx context.Context) (map[string]etl.Checkpoint, error)
	Close() error
}

var (
	_ Store = (*CheckpointFile)(nil)
	_ Store = (*CheckpointDB)(nil)
)

// Open returns the checkpoint store selected by cfg.CheckpointStore.
func Open(cfg config.SyncConfig) (Store, error) {
	switch cfg.CheckpointStore {
	case config.CheckpointStoreFile, "":
		return NewCheckpointFile(cfg.CheckpointFile), nil
	case config.CheckpointStoreSQLite:
		db, err := OpenDB(cfg.CheckpointFile)
		if err != nil {
			return nil, err
		}
		return NewCheckpointDB(db), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint store %q", cfg.CheckpointStore)
	}
}
