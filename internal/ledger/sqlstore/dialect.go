package sqlstore

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

type Dialect interface {
	Name() string
	HasTableQuery() string
	CreateTableQuery(table string) string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string {
	return "sqlite"
}

func (sqliteDialect) HasTableQuery() string {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}

func (sqliteDialect) CreateTableQuery(table string) string {
	const sqliteCreateLedger = `
		CREATE TABLE IF NOT EXISTS %s (
			migration_id INTEGER PRIMARY KEY AUTOINCREMENT,
			migration VARCHAR(255) NOT NULL UNIQUE,
			batch INTEGER NOT NULL
		)`

	return fmt.Sprintf(sqliteCreateLedger, table)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string {
	return "mysql"
}

func (mysqlDialect) HasTableQuery() string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
}

func (mysqlDialect) CreateTableQuery(table string) string {
	const mysqlCreateLedger = `
		CREATE TABLE IF NOT EXISTS %s (
			migration_id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			migration VARCHAR(255) NOT NULL,
			batch INT NOT NULL,
			PRIMARY KEY (migration_id),
			UNIQUE KEY %s_migration_unique (migration)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	return fmt.Sprintf(mysqlCreateLedger, table, table)
}

type postgresDialect struct{}

func (postgresDialect) Name() string {
	return "postgres"
}

func (postgresDialect) HasTableQuery() string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
}

func (postgresDialect) CreateTableQuery(table string) string {
	const postgresCreateLedger = `
		CREATE TABLE IF NOT EXISTS %s (
			migration_id BIGSERIAL PRIMARY KEY,
			migration VARCHAR(255) NOT NULL UNIQUE,
			batch INTEGER NOT NULL
		)`

	return fmt.Sprintf(postgresCreateLedger, table)
}

// DialectFor picks the ledger dialect by the database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return sqliteDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "pgx", "postgres":
		return postgresDialect{}, nil
	}

	return nil, errors.Wrapf(ErrUnsupportedDriver, "[%s]", driver)
}
