package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"essync/internal/config"
	"essync/internal/etl"
)

const pingTimeout = 10 * time.Second

// SQLWriter is the destination writer shared by MySQL, Postgres, and SQLite.
type SQLWriter struct {
	d      dialect
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	columns map[string]map[string]bool // table → column set, read once
}

var _ etl.DestinationWriter = (*SQLWriter)(nil)

func newSQLWriter(d dialect, dsn string, cfg config.DestinationConfig, logger *zap.Logger) (*SQLWriter, error) {
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driverName(), err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if d.driverName() == "sqlite" {
		// SQLite only supports one writer.
		db.SetMaxOpenConns(1)
	}
	w := newSQLWriterDB(d, db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := w.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", d.driverName(), err)
	}
	return w, nil
}

func newSQLWriterDB(d dialect, db *sql.DB, logger *zap.Logger) *SQLWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLWriter{
		d:       d,
		db:      db,
		logger:  logger.With(zap.String("driver", d.driverName())),
		columns: make(map[string]map[string]bool),
	}
}

// Ping verifies connectivity.
func (w *SQLWriter) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

func (w *SQLWriter) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := w.db.QueryRowContext(ctx, w.d.tableExistsQuery(), name).Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// CreateTable creates name with exactly the given columns. It does not use
// IF NOT EXISTS, so a concurrent creation surfaces as an error the caller
// can resolve by re-checking existence.
func (w *SQLWriter) CreateTable(ctx context.Context, name string, columns []etl.ColumnDef) error {
	query := createTableSQL(w.d, name, columns)
	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	w.mu.Lock()
	delete(w.columns, name)
	w.mu.Unlock()
	return nil
}

func createTableSQL(d dialect, name string, columns []etl.ColumnDef) string {
	defs := make([]string, 0, len(columns)+1)
	var pks []string
	for _, c := range columns {
		def := d.quote(c.Name) + " " + d.columnType(c.Type)
		if c.PrimaryKey {
			def += " NOT NULL"
			pks = append(pks, d.quote(c.Name))
		}
		defs = append(defs, def)
	}
	if len(pks) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pks, ", ")+")")
	}
	return "CREATE TABLE " + d.quote(name) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)" + d.createSuffix()
}

// BatchInsert writes docs in one transaction, overwriting rows with the same id.
// Fields with no matching table column are dropped.
func (w *SQLWriter) BatchInsert(ctx context.Context, name string, docs []etl.Document) error {
	if len(docs) == 0 {
		return nil
	}

	known, err := w.tableColumns(ctx, name)
	if err != nil {
		return err
	}
	docs = dedupeByID(docs)
	cols, dropped := batchColumns(docs, known)
	if len(dropped) > 0 {
		w.logger.Debug("dropping fields without a column",
			zap.String("table", name), zap.Strings("fields", dropped))
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rowsPerStmt := w.d.maxParams() / len(cols)
	if rowsPerStmt < 1 {
		rowsPerStmt = 1
	}
	for start := 0; start < len(docs); start += rowsPerStmt {
		end := start + rowsPerStmt
		if end > len(docs) {
			end = len(docs)
		}
		query, args, err := insertSQL(w.d, name, cols, docs[start:end])
		if err != nil {
			return fmt.Errorf("insert into %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// dedupeByID keeps the last document per id. Postgres rejects a single
// INSERT ... ON CONFLICT that touches the same row twice.
func dedupeByID(docs []etl.Document) []etl.Document {
	last := make(map[string]int, len(docs))
	for i, d := range docs {
		last[d.ID] = i
	}
	if len(last) == len(docs) {
		return docs
	}
	out := make([]etl.Document, 0, len(last))
	for i, d := range docs {
		if last[d.ID] == i {
			out = append(out, d)
		}
	}
	return out
}

// batchColumns returns id followed by the sorted union of document fields
// that exist in the table, plus the sorted names that do not.
func batchColumns(docs []etl.Document, known map[string]bool) (cols, dropped []string) {
	seen := map[string]bool{etl.IDField: true}
	missing := map[string]bool{}
	for _, d := range docs {
		for k := range d.Fields {
			if seen[k] || missing[k] {
				continue
			}
			if known[k] {
				seen[k] = true
				cols = append(cols, k)
			} else {
				missing[k] = true
				dropped = append(dropped, k)
			}
		}
	}
	sort.Strings(cols)
	sort.Strings(dropped)
	return append([]string{etl.IDField}, cols...), dropped
}

func insertSQL(d dialect, table string, cols []string, docs []etl.Document) (string, []any, error) {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.quote(c)
	}

	args := make([]any, 0, len(docs)*len(cols))
	tuples := make([]string, 0, len(docs))
	n := 0
	for _, doc := range docs {
		marks := make([]string, len(cols))
		for i, c := range cols {
			n++
			marks[i] = d.placeholder(n)
			if c == etl.IDField {
				args = append(args, doc.ID)
				continue
			}
			v, ok := doc.Fields[c]
			if !ok {
				args = append(args, nil)
				continue
			}
			arg, err := v.SQLArg()
			if err != nil {
				return "", nil, fmt.Errorf("document %s field %s: %w", doc.ID, c, err)
			}
			args = append(args, arg)
		}
		tuples = append(tuples, "("+strings.Join(marks, ", ")+")")
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.quote(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")
	b.WriteString(strings.Join(tuples, ", "))
	b.WriteString(d.upsert(quoted[1:]))
	return b.String(), args, nil
}

// tableColumns returns the column set of table, cached after the first read.
func (w *SQLWriter) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	w.mu.Lock()
	cached, ok := w.columns[table]
	w.mu.Unlock()
	if ok {
		return cached, nil
	}

	rows, err := w.db.QueryContext(ctx, w.d.columnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns or does not exist", table)
	}

	w.mu.Lock()
	w.columns[table] = cols
	w.mu.Unlock()
	return cols, nil
}

func (w *SQLWriter) Close() error {
	return w.db.Close()
}
