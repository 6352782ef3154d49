package dbclient

import (
	"fmt"
	"strings"

	"essync/internal/config"
	"essync/internal/etl"

	"github.com/go-sql-driver/mysql"
)

// buildMySQLDSN constructs a MySQL DSN from the destination config.
func buildMySQLDSN(cfg config.DestinationConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	if cfg.SSLMode == "require" {
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}

type mysqlDialect struct{}

func (mysqlDialect) driverName() string { return "mysql" }

func (mysqlDialect) quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) placeholder(int) string { return "?" }

func (mysqlDialect) columnType(t etl.ColumnType) string {
	switch t {
	case etl.ColumnID, etl.ColumnKeyword:
		return "VARCHAR(255)"
	case etl.ColumnInteger:
		return "INT"
	case etl.ColumnBigInt:
		return "BIGINT"
	case etl.ColumnFloat:
		return "DOUBLE"
	case etl.ColumnDateTime:
		return "DATETIME"
	case etl.ColumnJSON:
		return "JSON"
	default:
		return "LONGTEXT"
	}
}

func (mysqlDialect) createSuffix() string { return " DEFAULT CHARSET=utf8mb4" }

func (d mysqlDialect) upsert(cols []string) string {
	if len(cols) == 0 {
		id := d.quote(etl.IDField)
		return " ON DUPLICATE KEY UPDATE " + id + " = " + id
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func (mysqlDialect) tableExistsQuery() string {
	return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`
}

func (mysqlDialect) columnsQuery() string {
	return `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`
}

func (mysqlDialect) maxParams() int { return 65535 }
