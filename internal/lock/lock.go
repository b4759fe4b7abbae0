package lock

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	DefaultKey     = "mortar_migrations"
	DefaultTimeout    = 30 * time.Second
	DefaultStaleAfter = time.Hour
)

var (
	ErrUnsupportedDriver = errors.New("no locker for database driver")
	ErrLockTimeout       = errors.New("could not obtain the migrations lock in time")
	ErrNotLocked         = errors.New("migrations lock is not held")
	ErrAlreadyTaken      = errors.New("migrations lock is held by another owner")
)

// Locker coordinates mutually exclusive migration runs
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Forcer is implemented by lockers whose lock can outlive a crashed holder
type Forcer interface {
	Force(ctx context.Context) error
}

type NullLocker struct{}

var _ Locker = NullLocker{}

func (NullLocker) Lock(context.Context) error {
	return nil
}

func (NullLocker) Unlock(context.Context) error {
	return nil
}

// Options are shared by all lockers
type Options struct {
	Key     string
	Timeout time.Duration
	// StaleAfter is the age after which a lock row is considered abandoned
	StaleAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.Key == "" {
		o.Key = DefaultKey
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}

	return o
}

// HashKey produces a stable positive int64 out of a string key with FNV-1a
func HashKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

// For picks the locking strategy native to the database driver,
// databases without advisory locks fall back to the lock table
func For(db *sqlx.DB, table string, opts Options) (Locker, error) {
	switch db.DriverName() {
	case "mysql":
		return NewMySQLLocker(db, opts), nil
	case "pgx", "postgres":
		return NewPostgresLocker(db, opts), nil
	case "sqlite3", "sqlite":
		return NewTableLocker(db, table, opts), nil
	}

	return nil, errors.Wrapf(ErrUnsupportedDriver, "[%s]", db.DriverName())
}
