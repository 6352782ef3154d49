package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"essync/internal/etl"
)

// CheckpointDB is a CheckpointStore keeping one row per collection in SQLite.
// Each Save is a single upsert, so it never touches other collections.
type CheckpointDB struct {
	db *DB
}

func NewCheckpointDB(db *DB) *CheckpointDB {
	return &CheckpointDB{db: db}
}

func (s *CheckpointDB) Load(ctx context.Context, collection string) (etl.Checkpoint, error) {
	var (
		cursor  sql.NullString
		cp      etl.Checkpoint
		updated string
	)
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT cursor, processed_count, updated_at FROM checkpoints WHERE collection = ?`, collection,
	).Scan(&cursor, &cp.ProcessedCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return etl.Checkpoint{}, nil
	}
	if err != nil {
		return etl.Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", collection, err)
	}
	return scanned(cp, cursor, updated)
}

func (s *CheckpointDB) Save(ctx context.Context, collection string, cp etl.Checkpoint) error {
	var cursor sql.NullString
	if cp.Cursor != nil {
		cursor = sql.NullString{String: *cp.Cursor, Valid: true}
	}
	updated := ""
	if !cp.UpdatedAt.IsZero() {
		updated = cp.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO checkpoints (collection, cursor, processed_count, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection) DO UPDATE SET
		 cursor = excluded.cursor, processed_count = excluded.processed_count, updated_at = excluded.updated_at`,
		collection, cursor, cp.ProcessedCount, updated,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", collection, err)
	}
	return nil
}

// All returns every stored checkpoint.
func (s *CheckpointDB) All(ctx context.Context) (map[string]etl.Checkpoint, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT collection, cursor, processed_count, updated_at FROM checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	all := map[string]etl.Checkpoint{}
	for rows.Next() {
		var (
			name    string
			cursor  sql.NullString
			cp      etl.Checkpoint
			updated string
		)
		if err := rows.Scan(&name, &cursor, &cp.ProcessedCount, &updated); err != nil {
			return nil, err
		}
		if all[name], err = scanned(cp, cursor, updated); err != nil {
			return nil, err
		}
	}
	return all, rows.Err()
}

func (s *CheckpointDB) Close() error {
	return s.db.Close()
}

func scanned(cp etl.Checkpoint, cursor sql.NullString, updated string) (etl.Checkpoint, error) {
	if cursor.Valid {
		c := cursor.String
		cp.Cursor = &c
	}
	if updated != "" {
		t, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return etl.Checkpoint{}, fmt.Errorf("%w: updated_at %q", ErrCorruptCheckpoint, updated)
		}
		cp.UpdatedAt = t
	}
	return cp, nil
}
