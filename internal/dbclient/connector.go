package dbclient

import (
	"fmt"

	"go.uber.org/zap"

	"essync/internal/config"
	"essync/internal/etl"
)

// dialect captures the per-database SQL differences the writer relies on.
type dialect interface {
	driverName() string
	quote(ident string) string
	placeholder(n int) string
	columnType(t etl.ColumnType) string
	createSuffix() string
	// upsert returns the clause appended to INSERT to overwrite rows by id.
	upsert(quotedCols []string) string
	tableExistsQuery() string
	columnsQuery() string
	maxParams() int
}

// NewWriter creates the destination writer for cfg.Driver.
func NewWriter(cfg config.DestinationConfig, logger *zap.Logger) (*SQLWriter, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		return newSQLWriter(mysqlDialect{}, buildMySQLDSN(cfg), cfg, logger)
	case config.DriverPostgres:
		return newSQLWriter(postgresDialect{}, buildPostgresDSN(cfg), cfg, logger)
	case config.DriverSQLite:
		return newSQLWriter(sqliteDialect{}, buildSQLiteDSN(cfg), cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}
