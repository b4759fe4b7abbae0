package connection

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/denismitr/mortar/internal/logger"
	"github.com/denismitr/mortar/internal/retry"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/xo/dburl"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	Default = "default"

	DefaultConnectAttempts = 10
	DefaultConnectTimeout  = 60 * time.Second
	DefaultConnectStep     = 500 * time.Millisecond
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNoDataSource      = errors.New("connection has neither url nor dsn")
)

type (
	// Details is the execution profile of a named connection
	Details struct {
		Driver          string
		URL             string
		DSN             string
		MaxOpenConns    int
		ConnectAttempts int
		ConnectTimeout  time.Duration
	}

	// Registry resolves named connections
	Registry interface {
		Connection(ctx context.Context, name string) (*sqlx.DB, error)
		Details() map[string]Details
	}
)

// driverAliases maps driver names reported by dburl to registered database/sql drivers
var driverAliases = map[string]string{
	"postgres":      "pgx",
	"moderncsqlite": "sqlite",
}

// Source returns the database/sql driver and data source name of the connection
func (d Details) Source() (string, string, error) {
	driver, dsn := d.Driver, d.DSN

	if dsn == "" {
		if d.URL == "" {
			return "", "", ErrNoDataSource
		}

		u, err := dburl.Parse(d.URL)
		if err != nil {
			return "", "", errors.Wrap(err, "could not parse database url")
		}

		dsn = u.DSN
		if driver == "" {
			driver = u.Driver
		}
	}

	if driver == "" {
		return "", "", errors.Wrap(ErrNoDataSource, "driver is not defined")
	}

	if alias, ok := driverAliases[driver]; ok {
		driver = alias
	}

	return driver, dsn, nil
}

// Manager opens connections lazily from their details and keeps them until Close
type Manager struct {
	mu      sync.Mutex
	details map[string]Details
	open    map[string]*sqlx.DB
	lg      logger.Logger
	step    time.Duration
}

var _ Registry = (*Manager)(nil)

func NewManager(details map[string]Details, lg logger.Logger) *Manager {
	if lg == nil {
		lg = &logger.NullLogger{}
	}

	return &Manager{
		details: details,
		open:    make(map[string]*sqlx.DB),
		lg:      lg,
		step:    DefaultConnectStep,
	}
}

func (m *Manager) Details() map[string]Details {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]Details, len(m.details))
	for name, d := range m.details {
		result[name] = d
	}

	return result
}

func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.details))
	for name := range m.details {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (m *Manager) Connection(ctx context.Context, name string) (*sqlx.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.open[name]; ok {
		return db, nil
	}

	d, ok := m.details[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownConnection, "[%s]", name)
	}

	db, err := m.connect(ctx, name, d)
	if err != nil {
		return nil, err
	}

	m.open[name] = db

	return db, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result error
	for name, db := range m.open {
		if err := db.Close(); err != nil {
			m.lg.Error(err)
			result = errors.Wrapf(err, "could not close connection [%s]", name)
		}

		delete(m.open, name)
	}

	return result
}

func (m *Manager) connect(ctx context.Context, name string, d Details) (*sqlx.DB, error) {
	driver, dsn, err := d.Source()
	if err != nil {
		return nil, errors.Wrapf(err, "connection [%s]", name)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open connection [%s] with driver [%s]", name, driver)
	}

	if d.MaxOpenConns > 0 {
		db.SetMaxOpenConns(d.MaxOpenConns)
	}

	attempts := d.ConnectAttempts
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = retry.Incremental(pingCtx, m.step, attempts, func(attempt int) error {
		if err := db.PingContext(pingCtx); err != nil {
			m.lg.Debugf("connection [%s] ping attempt %d failed: %s", name, attempt, err)
			return retry.Error(errors.Wrap(err, "db ping failed"), attempt)
		}

		return nil
	})

	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "could not establish connection [%s]", name)
	}

	m.lg.Debugf("connection [%s] established with driver [%s]", name, driver)

	return db, nil
}

// Static serves an already opened database under a single name
type Static struct {
	name string
	db   *sqlx.DB
}

var _ Registry = (*Static)(nil)

func NewStatic(name string, db *sqlx.DB) *Static {
	if name == "" {
		name = Default
	}

	return &Static{name: name, db: db}
}

func (s *Static) Connection(_ context.Context, name string) (*sqlx.DB, error) {
	if name != s.name {
		return nil, errors.Wrapf(ErrUnknownConnection, "[%s]", name)
	}

	return s.db, nil
}

func (s *Static) Details() map[string]Details {
	return map[string]Details{s.name: {Driver: s.db.DriverName()}}
}
