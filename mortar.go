package mortar

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/denismitr/mortar/internal/connection"
	"github.com/denismitr/mortar/internal/discovery"
	"github.com/denismitr/mortar/internal/ledger"
	"github.com/denismitr/mortar/internal/ledger/sqlstore"
	"github.com/denismitr/mortar/internal/lock"
	"github.com/denismitr/mortar/internal/logger"
	"github.com/denismitr/mortar/internal/metrics"
	"github.com/denismitr/mortar/internal/resolver"
	"github.com/denismitr/mortar/migration"
	"github.com/denismitr/mortar/report"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrConnectionNotInitialized = errors.New("database connection has not been initialized")
	ErrMigrationNotFound        = resolver.ErrMigrationNotFound
	ErrDuplicateMigration       = ledger.ErrDuplicateMigration
	ErrLockTimeout              = lock.ErrLockTimeout
)

const (
	OperationMigrate     = "migrate"
	OperationRollback    = "rollback"
	OperationRollbackAll = "rollback_all"
	OperationReset       = "reset"
	OperationRefresh     = "refresh"

	directionApply  = "apply"
	directionRevert = "revert"
)

type (
	CloserFunc func() error

	MigrationNotFoundError = resolver.MigrationNotFoundError
	ConnectionDetails      = connection.Details
	Connections            = connection.Registry

	// Status of a single discovered migration
	Status struct {
		Migration string
		Ran       bool
		Batch     int
	}
)

// Migrator applies and reverts migrations found in a directory
// and keeps track of them in the ledger table
type Migrator struct {
	lg          logger.Logger
	connections Connections
	details     map[string]ConnectionDetails
	staticDB    *sqlx.DB
	connection  string
	directory   string
	markers     []string
	registry    *migration.Registry
	reporter    report.Reporter
	output      io.Writer
	dry         bool
	skipLedger  bool
	table       string
	lockOpts    lock.Options
	noLock      bool
	registerer  prometheus.Registerer
	closers     []CloserFunc

	db       *sqlx.DB
	source   *discovery.LocalDirectory
	ledger   *ledger.Ledger
	resolver *resolver.Resolver
	locker   lock.Locker
	metrics  *metrics.Collector

	lastRan []string
}

// NewMigrator creates a migrator configured by option callbacks,
// when no custom options are given a number of defaults will be applied
func NewMigrator(opts ...OptionFunc) (*Migrator, CloserFunc, error) {
	m := &Migrator{
		lg:         &logger.NullLogger{},
		connection: connection.Default,
		directory:  discovery.DefaultDirectory,
		registry:   migration.DefaultRegistry,
		output:     os.Stdout,
		table:      ledger.DefaultTable,
	}

	for _, oFunc := range opts {
		if err := oFunc(m); err != nil {
			_ = m.close()
			return nil, nil, err
		}
	}

	if m.connections == nil && m.details != nil {
		manager := connection.NewManager(m.details, m.lg)
		m.connections = manager
		m.closers = append(m.closers, manager.Close)
	}

	if m.connections == nil && m.staticDB != nil {
		m.connections = connection.NewStatic(m.connection, m.staticDB)
	}

	if m.connections == nil {
		return nil, nil, ErrConnectionNotInitialized
	}

	if err := m.init(context.Background()); err != nil {
		_ = m.close()
		return nil, nil, err
	}

	return m, m.close, nil
}

func (m *Migrator) init(ctx context.Context) error {
	db, err := m.connections.Connection(ctx, m.connection)
	if err != nil {
		return errors.Wrapf(err, "could not get connection [%s]", m.connection)
	}

	store, err := sqlstore.New(db, m.table, m.lg)
	if err != nil {
		return err
	}

	m.db = db
	m.ledger = ledger.New(store, m.lg)
	m.source = discovery.NewLocalDirectory(m.directory, m.lg, m.markers...)
	m.resolver = resolver.New(m.registry, m.source, m.connection, db, m.dry, m.lg)

	if m.noLock {
		m.locker = lock.NullLocker{}
	} else {
		locker, err := lock.For(db, m.table+"_lock", m.lockOpts)
		if err != nil {
			return err
		}
		m.locker = locker
	}

	if m.registerer != nil {
		collector, err := metrics.New(m.registerer)
		if err != nil {
			return err
		}
		m.metrics = collector
	}

	return nil
}

// Migrate applies every pending migration in one new batch and returns their names,
// on failure the names applied before the failing one are returned with the error
func (m *Migrator) Migrate(ctx context.Context, cfs ...ActionConfigurator) ([]string, error) {
	act := newAction(cfs...)

	var migrated []string
	err := m.execUnderLock(ctx, OperationMigrate, func(ctx context.Context) error {
		var err error
		migrated, err = m.migrate(ctx, act)
		return err
	})

	return migrated, err
}

// Rollback reverts the most recent batch, last applied first
func (m *Migrator) Rollback(ctx context.Context, cfs ...ActionConfigurator) ([]string, error) {
	act := newAction(cfs...)

	var rolledBack []string
	err := m.execUnderLock(ctx, OperationRollback, func(ctx context.Context) error {
		var err error
		rolledBack, err = m.rollback(ctx, act)
		return err
	})

	return rolledBack, err
}

// RollbackAll reverts every recorded migration in reverse apply order,
// the same order Reset uses
func (m *Migrator) RollbackAll(ctx context.Context) ([]string, error) {
	var rolledBack []string
	err := m.execUnderLock(ctx, OperationRollbackAll, func(ctx context.Context) error {
		var err error
		rolledBack, err = m.rollbackAll(ctx)
		return err
	})

	return rolledBack, err
}

// Reset reverts every recorded migration one at a time, last applied first
func (m *Migrator) Reset(ctx context.Context) ([]string, error) {
	var rolledBack []string
	err := m.execUnderLock(ctx, OperationReset, func(ctx context.Context) error {
		var err error
		rolledBack, err = m.reset(ctx)
		return err
	})

	return rolledBack, err
}

// Refresh resets the database and then migrates everything again in a fresh batch
func (m *Migrator) Refresh(ctx context.Context, cfs ...ActionConfigurator) ([]string, []string, error) {
	act := newAction(cfs...)

	var rolledBack, migrated []string
	err := m.execUnderLock(ctx, OperationRefresh, func(ctx context.Context) error {
		var err error
		if rolledBack, err = m.reset(ctx); err != nil {
			return err
		}

		migrated, err = m.migrate(ctx, act)
		return err
	})

	return rolledBack, migrated, err
}

// Ran lists discovered migrations that are recorded in the ledger
func (m *Migrator) Ran(ctx context.Context) ([]string, error) {
	return m.filter(ctx, true)
}

// Unran lists discovered migrations that are not recorded in the ledger yet
func (m *Migrator) Unran(ctx context.Context) ([]string, error) {
	return m.filter(ctx, false)
}

// Status describes every discovered migration
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	if _, err := m.ledger.EnsureTable(ctx); err != nil {
		return nil, err
	}

	names, err := m.source.List(ctx)
	if err != nil {
		return nil, err
	}

	records, err := m.ledger.All(ctx)
	if err != nil {
		return nil, err
	}

	idx := records.Index()
	result := make([]Status, 0, len(names))
	for _, name := range names {
		r, ok := idx[name]
		result = append(result, Status{Migration: name, Ran: ok, Batch: r.Batch})
	}

	return result, nil
}

// LastRan returns the migrations attempted by the most recent migrate
func (m *Migrator) LastRan() []string {
	result := make([]string, len(m.lastRan))
	copy(result, m.lastRan)
	return result
}

// ForceUnlock clears a lock left behind by a crashed run. Session level
// database locks are released by the server and need no clearing.
func (m *Migrator) ForceUnlock(ctx context.Context) error {
	f, ok := m.locker.(lock.Forcer)
	if !ok {
		return nil
	}

	if err := f.Force(ctx); err != nil {
		m.lg.Error(err)
		return err
	}

	m.lg.Successf("migrations lock released")

	return nil
}

// Create writes a new SQL migration stub into the migrations directory
func (m *Migrator) Create(name string) (string, error) {
	return m.source.Create(time.Now(), name)
}

func (m *Migrator) Directory() string {
	return m.source.Path()
}

// DB is the database the migrator runs against
func (m *Migrator) DB() *sqlx.DB {
	return m.db
}

func (m *Migrator) migrate(ctx context.Context, act *Action) ([]string, error) {
	batch, err := m.ledger.CurrentBatch(ctx)
	if err != nil {
		return nil, err
	}
	batch++

	pending, err := m.Unran(ctx)
	if err != nil {
		return nil, err
	}

	m.lastRan = nil

	if len(pending) == 0 {
		m.line("<info>Nothing to migrate</info>")
		return []string{}, nil
	}

	migrated := make([]string, 0, len(pending))
	for _, name := range pending {
		if err := ctx.Err(); err != nil {
			return migrated, errors.Wrapf(err, "migrate stopped before [%s]", name)
		}

		unit, err := m.resolver.Resolve(name)
		if err != nil {
			return migrated, err
		}

		m.lastRan = append(m.lastRan, name)
		m.line(fmt.Sprintf("<comment>Migrating:</comment> <question>%s</question>", name))

		if act.preview {
			unit.Schema().Dry()
		}

		start := time.Now()
		err = unit.Apply(ctx)
		elapsed := time.Since(start)
		m.metrics.Unit(directionApply, elapsed, err)

		if err != nil {
			return migrated, errors.Wrapf(err, "could not apply [%s] after %ss", name, seconds(elapsed))
		}

		if act.preview {
			if err := m.render(unit); err != nil {
				return migrated, err
			}
		}

		if m.bookkeep(unit) {
			if err := m.ledger.Record(ctx, name, batch); err != nil {
				return migrated, err
			}
		}

		m.line(fmt.Sprintf("<info>Migrated:</info> <question>%s</question> (%ss)", name, seconds(elapsed)))
		m.lg.Debugf("migrated [%s] in batch %d", name, batch)

		migrated = append(migrated, name)
	}

	m.metrics.Batch(batch)
	m.lg.Successf("migrated %d migration(s) in batch %d", len(migrated), batch)

	return migrated, nil
}

func (m *Migrator) rollback(ctx context.Context, act *Action) ([]string, error) {
	batch, err := m.ledger.CurrentBatch(ctx)
	if err != nil {
		return nil, err
	}

	names, err := m.ledger.LatestBatchNames(ctx)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		m.line("<info>Nothing to rollback</info>")
		return []string{}, nil
	}

	rolledBack := make([]string, 0, len(names))
	for _, name := range names {
		elapsed, err := m.revert(ctx, name, act.preview)
		if err != nil {
			return rolledBack, err
		}

		m.line(fmt.Sprintf("<info>Rolled back:</info> <question>%s</question> (%ss)", name, seconds(elapsed)))
		rolledBack = append(rolledBack, name)
	}

	if !(m.skipLedger && (m.dry || act.preview)) {
		if err := m.ledger.RemoveBatch(ctx, batch); err != nil {
			return rolledBack, err
		}
	}

	m.metrics.Batch(batch - 1)
	m.lg.Successf("rolled back %d migration(s) of batch %d", len(rolledBack), batch)

	return rolledBack, nil
}

func (m *Migrator) rollbackAll(ctx context.Context) ([]string, error) {
	records, err := m.ledger.AllReversed(ctx)
	if err != nil {
		return nil, err
	}

	rolledBack := make([]string, 0, len(records))
	for _, name := range records.Names() {
		if _, err := m.revert(ctx, name, false); err != nil {
			return rolledBack, err
		}

		m.line(fmt.Sprintf("<info>Rolled back:</info> <question>%s</question>", name))
		rolledBack = append(rolledBack, name)
	}

	if err := m.ledger.RemoveMany(ctx, rolledBack); err != nil {
		return rolledBack, err
	}

	m.metrics.Batch(0)
	m.lg.Successf("rolled back all %d migration(s)", len(rolledBack))

	return rolledBack, nil
}

func (m *Migrator) reset(ctx context.Context) ([]string, error) {
	records, err := m.ledger.AllReversed(ctx)
	if err != nil {
		return nil, err
	}

	rolledBack := make([]string, 0, len(records))
	for _, name := range records.Names() {
		if _, err := m.revert(ctx, name, false); err != nil {
			return rolledBack, err
		}

		m.line(fmt.Sprintf("<info>Rolled back:</info> <question>%s</question>", name))
		rolledBack = append(rolledBack, name)
	}

	m.line("")
	m.metrics.Batch(0)
	m.lg.Successf("reset %d migration(s)", len(rolledBack))

	return rolledBack, nil
}

// revert runs a single unit backwards and removes it from the ledger
func (m *Migrator) revert(ctx context.Context, name string, preview bool) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Wrapf(err, "stopped before reverting [%s]", name)
	}

	m.line(fmt.Sprintf("<comment>Rolling back:</comment> <question>%s</question>", name))

	unit, err := m.resolver.Resolve(name)
	if err != nil {
		return 0, err
	}

	if preview {
		unit.Schema().Dry()
	}

	start := time.Now()
	err = unit.Revert(ctx)
	elapsed := time.Since(start)
	m.metrics.Unit(directionRevert, elapsed, err)

	if err != nil {
		return elapsed, errors.Wrapf(err, "could not revert [%s] after %ss", name, seconds(elapsed))
	}

	if preview {
		if err := m.render(unit); err != nil {
			return elapsed, err
		}
	}

	if m.bookkeep(unit) {
		if err := m.ledger.Remove(ctx, name); err != nil {
			return elapsed, err
		}
	}

	m.lg.Debugf("reverted [%s]", name)

	return elapsed, nil
}

func (m *Migrator) filter(ctx context.Context, ran bool) ([]string, error) {
	if _, err := m.ledger.EnsureTable(ctx); err != nil {
		return nil, err
	}

	names, err := m.source.List(ctx)
	if err != nil {
		return nil, err
	}

	recorded, err := m.ledger.Names(ctx)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]struct{}, len(recorded))
	for _, name := range recorded {
		idx[name] = struct{}{}
	}

	result := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := idx[name]; ok == ran {
			result = append(result, name)
		}
	}

	return result, nil
}

// bookkeep tells whether the ledger should follow the unit
func (m *Migrator) bookkeep(unit migration.Unit) bool {
	return !(m.skipLedger && unit.Schema().IsDry())
}

// render shows the compiled SQL of the unit
func (m *Migrator) render(unit migration.Unit) error {
	sql := unit.Schema().SQL()

	if m.reporter == nil {
		if _, err := fmt.Fprintln(m.output, sql); err != nil {
			return errors.Wrap(err, "could not print sql")
		}
		return nil
	}

	table := m.reporter.Table()
	table.SetHeaderRow([]string{"SQL"})
	table.SetRows([][]string{{sql}})

	if err := table.Render(m.reporter.Output()); err != nil {
		return errors.Wrap(err, "could not render sql table")
	}

	return nil
}

func (m *Migrator) line(markup string) {
	if m.reporter != nil {
		m.reporter.Line(markup)
	}
}

func (m *Migrator) execUnderLock(ctx context.Context, operation string, f func(context.Context) error) (err error) {
	started := time.Now()
	defer func() {
		m.metrics.Operation(operation, started, err)
	}()

	if lockErr := m.locker.Lock(ctx); lockErr != nil {
		m.lg.Error(lockErr)
		return errors.Wrapf(lockErr, "operation [%s] could not obtain the lock", operation)
	}

	defer func() {
		if unlockErr := m.locker.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			m.lg.Error(unlockErr)
			if err == nil {
				err = errors.Wrapf(unlockErr, "operation [%s] could not release the lock", operation)
			}
		}
	}()

	if _, ensureErr := m.ledger.EnsureTable(ctx); ensureErr != nil {
		m.lg.Error(ensureErr)
		return errors.Wrapf(ensureErr, "operation [%s] failed", operation)
	}

	if opErr := f(ctx); opErr != nil {
		m.lg.Error(opErr)
		return errors.Wrapf(opErr, "operation [%s] failed", operation)
	}

	return nil
}

func (m *Migrator) close() error {
	var result error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			m.lg.Error(err)
			result = err
		}
	}

	m.closers = nil

	return result
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.2f", d.Seconds())
}
