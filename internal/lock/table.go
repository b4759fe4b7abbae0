package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/denismitr/mortar/internal/retry"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	DefaultTable        = "migrations_lock"
	DefaultPollInterval = 250 * time.Millisecond
)

// TableLocker keeps the lock as a single row, whoever inserts the row first owns it.
// A row older than StaleAfter belongs to a crashed run and is taken over.
type TableLocker struct {
	db       *sqlx.DB
	opts     Options
	table    string
	owner    string
	interval time.Duration
	now      func() time.Time
}

var (
	_ Locker = (*TableLocker)(nil)
	_ Forcer = (*TableLocker)(nil)
)

func NewTableLocker(db *sqlx.DB, table string, opts Options) *TableLocker {
	if table == "" {
		table = DefaultTable
	}

	return &TableLocker{
		db:       db,
		opts:     opts.withDefaults(),
		table:    table,
		owner:    uuid.NewString(),
		interval: DefaultPollInterval,
		now:      time.Now,
	}
}

func (l *TableLocker) Owner() string {
	return l.owner
}

func (l *TableLocker) Lock(ctx context.Context) error {
	if err := l.ensureTable(ctx); err != nil {
		return err
	}

	attempts := int(l.opts.Timeout / l.interval)
	if attempts < 1 {
		attempts = 1
	}

	insert := l.db.Rebind(fmt.Sprintf(
		"INSERT INTO %s (lock_id, lock_key, owner, acquired_at) VALUES (1, ?, ?, ?)", l.table,
	))

	err := retry.Constant(ctx, l.interval, attempts, func(attempt int) error {
		if err := l.takeOverStale(ctx); err != nil {
			return err
		}

		_, err := l.db.ExecContext(ctx, insert, l.opts.Key, l.owner, l.now().Unix())
		if err == nil {
			return nil
		}

		holder, holderErr := l.holder(ctx)
		if holderErr != nil {
			return errors.Wrap(err, holderErr.Error())
		}

		// released between the insert and the lookup
		if holder == "" {
			return retry.Error(err, attempt)
		}

		return retry.Error(errors.Wrapf(ErrAlreadyTaken, "owner [%s]", holder), attempt)
	})

	if err != nil {
		if errors.Is(err, retry.ErrTooManyAttempts) {
			return errors.Wrapf(ErrLockTimeout, "table lock [%s] after %s", l.table, l.opts.Timeout)
		}

		return errors.Wrapf(err, "could not obtain table lock [%s]", l.table)
	}

	return nil
}

func (l *TableLocker) Unlock(ctx context.Context) error {
	q := l.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE lock_id = 1 AND owner = ?", l.table))

	res, err := l.db.ExecContext(ctx, q, l.owner)
	if err != nil {
		return errors.Wrapf(err, "could not release table lock [%s]", l.table)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "could not read affected rows")
	}

	if n == 0 {
		return errors.Wrapf(ErrNotLocked, "owner [%s]", l.owner)
	}

	return nil
}

// Force removes the lock row whoever holds it
func (l *TableLocker) Force(ctx context.Context) error {
	if err := l.ensureTable(ctx); err != nil {
		return err
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE lock_id = 1", l.table)
	if _, err := l.db.ExecContext(ctx, q); err != nil {
		return errors.Wrapf(err, "could not force release table lock [%s]", l.table)
	}

	return nil
}

func (l *TableLocker) takeOverStale(ctx context.Context) error {
	q := l.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE lock_id = 1 AND acquired_at < ?", l.table))

	deadline := l.now().Add(-l.opts.StaleAfter).Unix()
	if _, err := l.db.ExecContext(ctx, q, deadline); err != nil {
		return errors.Wrapf(err, "could not clear stale table lock [%s]", l.table)
	}

	return nil
}

func (l *TableLocker) ensureTable(ctx context.Context) error {
	const createLockTable = `
		CREATE TABLE IF NOT EXISTS %s (
			lock_id INTEGER NOT NULL PRIMARY KEY,
			lock_key VARCHAR(255) NOT NULL,
			owner VARCHAR(36) NOT NULL,
			acquired_at BIGINT NOT NULL
		)`

	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(createLockTable, l.table)); err != nil {
		return errors.Wrapf(err, "could not create lock table [%s]", l.table)
	}

	return nil
}

func (l *TableLocker) holder(ctx context.Context) (string, error) {
	q := fmt.Sprintf("SELECT owner FROM %s WHERE lock_id = 1", l.table)

	var owners []string
	if err := l.db.SelectContext(ctx, &owners, q); err != nil {
		return "", errors.Wrapf(err, "could not read lock owner from [%s]", l.table)
	}

	if len(owners) == 0 {
		return "", nil
	}

	return owners[0], nil
}
