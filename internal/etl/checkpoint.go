package etl

import (
	"context"
	"time"
)

// Checkpoint is the resume state of one collection.
// It always describes a batch that was fully written to the destination.
type Checkpoint struct {
	Cursor         *string   `json:"cursor"`
	ProcessedCount int64     `json:"processed_count"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

// IsZero reports whether c is the un-checkpointed state.
func (c Checkpoint) IsZero() bool {
	return c.Cursor == nil && c.ProcessedCount == 0
}

// CheckpointStore persists checkpoints keyed by collection.
// Load returns the zero Checkpoint for an unknown collection and an error
// only when the store itself cannot be read.
type CheckpointStore interface {
	Load(ctx context.Context, collection string) (Checkpoint, error)
	Save(ctx context.Context, collection string, cp Checkpoint) error
}
