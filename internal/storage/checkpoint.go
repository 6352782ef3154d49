package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"essync/internal/etl"
)

// ErrCorruptCheckpoint means the checkpoint file exists but cannot be decoded.
// Progress recorded in it cannot be trusted, so callers must not treat it as empty.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint store")

// CheckpointFile is a CheckpointStore backed by one JSON document mapping
// collection → checkpoint. Every Save rewrites the whole file through a
// temp file + rename, keeping all other collections' entries.
//
// Safe for one process at a time; the mutex only serializes in-process callers.
type CheckpointFile struct {
	path string
	mu   sync.Mutex
}

// NewCheckpointFile returns a store at path. The file is created on first Save.
func NewCheckpointFile(path string) *CheckpointFile {
	return &CheckpointFile{path: path}
}

// Close is a no-op; the file is only open during Load and Save.
func (s *CheckpointFile) Close() error { return nil }

func (s *CheckpointFile) Load(ctx context.Context, collection string) (etl.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return etl.Checkpoint{}, err
	}
	return all[collection], nil
}

func (s *CheckpointFile) Save(ctx context.Context, collection string, cp etl.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return err
	}
	all[collection] = cp
	return s.writeLocked(all)
}

// All returns every stored checkpoint.
func (s *CheckpointFile) All(ctx context.Context) (map[string]etl.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *CheckpointFile) readLocked() (map[string]etl.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]etl.Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	all := map[string]etl.Checkpoint{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCheckpoint, s.path, err)
	}
	if all == nil {
		// literal "null"
		all = map[string]etl.Checkpoint{}
	}
	return all, nil
}

func (s *CheckpointFile) writeLocked(all map[string]etl.Checkpoint) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace checkpoint file: %w", err)
	}
	return nil
}
