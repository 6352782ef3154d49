package dbclient

import (
	"fmt"
	"strconv"
	"strings"

	"essync/internal/config"
	"essync/internal/etl"

	_ "github.com/lib/pq"
)

// buildPostgresDSN constructs a Postgres connection string from the destination config.
func buildPostgresDSN(cfg config.DestinationConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pqValue(cfg.Host), port, pqValue(cfg.Username), pqValue(cfg.Password), pqValue(cfg.Database), sslMode,
	)
}

// pqValue quotes a keyword/value connection string value when needed.
func pqValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "postgres" }

func (postgresDialect) quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) columnType(t etl.ColumnType) string {
	switch t {
	case etl.ColumnID, etl.ColumnKeyword:
		return "VARCHAR(255)"
	case etl.ColumnInteger:
		return "INTEGER"
	case etl.ColumnBigInt:
		return "BIGINT"
	case etl.ColumnFloat:
		return "DOUBLE PRECISION"
	case etl.ColumnDateTime:
		return "TIMESTAMP"
	case etl.ColumnJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (postgresDialect) createSuffix() string { return "" }

func (d postgresDialect) upsert(cols []string) string {
	return conflictUpsert(d.quote(etl.IDField), cols)
}

func (postgresDialect) tableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
		 WHERE table_schema = current_schema() AND table_name = $1`
}

func (postgresDialect) columnsQuery() string {
	return `SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`
}

func (postgresDialect) maxParams() int { return 65535 }

// conflictUpsert is the ON CONFLICT form shared by Postgres and SQLite.
func conflictUpsert(id string, cols []string) string {
	if len(cols) == 0 {
		return " ON CONFLICT (" + id + ") DO NOTHING"
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, c+" = excluded."+c)
	}
	return " ON CONFLICT (" + id + ") DO UPDATE SET " + strings.Join(sets, ", ")
}
