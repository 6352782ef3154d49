package dbclient

import (
	"strings"

	"essync/internal/config"
	"essync/internal/etl"

	_ "modernc.org/sqlite"
)

// buildSQLiteDSN opens the destination file in WAL mode with a busy timeout.
func buildSQLiteDSN(cfg config.DestinationConfig) string {
	return cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string { return "sqlite" }

func (sqliteDialect) quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) columnType(t etl.ColumnType) string {
	switch t {
	case etl.ColumnInteger, etl.ColumnBigInt:
		return "INTEGER"
	case etl.ColumnFloat:
		return "REAL"
	case etl.ColumnDateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) createSuffix() string { return "" }

func (d sqliteDialect) upsert(cols []string) string {
	return conflictUpsert(d.quote(etl.IDField), cols)
}

func (sqliteDialect) tableExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (sqliteDialect) columnsQuery() string {
	return `SELECT name FROM pragma_table_info(?)`
}

func (sqliteDialect) maxParams() int { return 32766 }
