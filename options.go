package mortar

import (
	"io"
	"time"

	"github.com/denismitr/mortar/internal/logger"
	"github.com/denismitr/mortar/migration"
	"github.com/denismitr/mortar/report"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var ErrInvalidOption = errors.New("invalid migrator option")

type OptionFunc func(*Migrator) error

func UseColorLogger(p logger.Printer, printSQL, printDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewColorLogger(p, printSQL, printDebug)
		return nil
	}
}

func UseLogger(p logger.Printer, printSQL, printDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewBWLogger(p, printSQL, printDebug)
		return nil
	}
}

// UseDB serves an already opened database as the default connection,
// the caller stays responsible for closing it
func UseDB(db *sqlx.DB) OptionFunc {
	return func(m *Migrator) error {
		if db == nil {
			return errors.Wrap(ErrInvalidOption, "db is nil")
		}

		m.staticDB = db
		return nil
	}
}

// UseConnections resolves the migrator connection through a registry
func UseConnections(c Connections) OptionFunc {
	return func(m *Migrator) error {
		m.connections = c
		return nil
	}
}

// UseConnectionDetails opens connections from their details, they are closed with the migrator
func UseConnectionDetails(details map[string]ConnectionDetails) OptionFunc {
	return func(m *Migrator) error {
		if len(details) == 0 {
			return errors.Wrap(ErrInvalidOption, "no connection details")
		}

		m.details = details
		return nil
	}
}

// OnConnection selects the named connection, "default" is used otherwise
func OnConnection(name string) OptionFunc {
	return func(m *Migrator) error {
		if name == "" {
			return errors.Wrap(ErrInvalidOption, "connection name is empty")
		}

		m.connection = name
		return nil
	}
}

// UseDirectory sets the migrations directory and optionally the package marker files to skip
func UseDirectory(path string, markers ...string) OptionFunc {
	return func(m *Migrator) error {
		if path == "" {
			return errors.Wrap(ErrInvalidOption, "migrations directory is empty")
		}

		m.directory = path
		m.markers = markers
		return nil
	}
}

func UseRegistry(r *migration.Registry) OptionFunc {
	return func(m *Migrator) error {
		m.registry = r
		return nil
	}
}

func UseReporter(r report.Reporter) OptionFunc {
	return func(m *Migrator) error {
		m.reporter = r
		return nil
	}
}

// WithOutput sets where compiled SQL goes when there is no reporter
func WithOutput(w io.Writer) OptionFunc {
	return func(m *Migrator) error {
		m.output = w
		return nil
	}
}

// WithDry puts every resolved unit into dry mode for the whole lifetime of the migrator
func WithDry() OptionFunc {
	return func(m *Migrator) error {
		m.dry = true
		return nil
	}
}

// SkipLedgerWhenDry keeps the ledger untouched for units that did not really run
func SkipLedgerWhenDry() OptionFunc {
	return func(m *Migrator) error {
		m.skipLedger = true
		return nil
	}
}

func WithMigrationsTable(table string) OptionFunc {
	return func(m *Migrator) error {
		if table == "" {
			return errors.Wrap(ErrInvalidOption, "migrations table is empty")
		}

		m.table = table
		return nil
	}
}

func WithLock(key string, timeout time.Duration) OptionFunc {
	return func(m *Migrator) error {
		m.lockOpts.Key = key
		m.lockOpts.Timeout = timeout
		return nil
	}
}

// WithLockStaleAfter sets the age after which a lock table row left by a crashed run is taken over
func WithLockStaleAfter(d time.Duration) OptionFunc {
	return func(m *Migrator) error {
		if d <= 0 {
			return errors.Wrap(ErrInvalidOption, "stale lock age must be positive")
		}

		m.lockOpts.StaleAfter = d
		return nil
	}
}

func WithNoLock() OptionFunc {
	return func(m *Migrator) error {
		m.noLock = true
		return nil
	}
}

func WithMetrics(reg prometheus.Registerer) OptionFunc {
	return func(m *Migrator) error {
		m.registerer = reg
		return nil
	}
}
