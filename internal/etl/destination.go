package etl

import "context"

// ── Destination ────────────────────────────────────────────
// A DestinationWriter writes documents into a relational table.
// The implementation lives in internal/dbclient.

// DestinationWriter is the capability set the engine needs from a destination.
type DestinationWriter interface {
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, name string, columns []ColumnDef) error

	// BatchInsert writes docs all-or-nothing, overwriting rows with the same id.
	BatchInsert(ctx context.Context, name string, docs []Document) error

	Close() error
}

// EnsureTable creates the table for a collection unless one already exists.
// An existing table is trusted as-is; its columns are never altered.
// It reports whether the table was created by this call.
func EnsureTable(ctx context.Context, w DestinationWriter, name string, columns []ColumnDef) (bool, error) {
	exists, err := w.TableExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := w.CreateTable(ctx, name, columns); err != nil {
		// Lost a creation race: someone else's table is as good as ours.
		if again, checkErr := w.TableExists(ctx, name); checkErr == nil && again {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
