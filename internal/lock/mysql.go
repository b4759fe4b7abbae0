package lock

import (
	"context"
	"database/sql"
	"math"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// MySQLLocker uses GET_LOCK on a dedicated connection, the lock
// belongs to the session so the connection is kept until Unlock
type MySQLLocker struct {
	db   *sqlx.DB
	opts Options
	conn *sqlx.Conn
}

var _ Locker = (*MySQLLocker)(nil)

func NewMySQLLocker(db *sqlx.DB, opts Options) *MySQLLocker {
	return &MySQLLocker{db: db, opts: opts.withDefaults()}
}

func (l *MySQLLocker) Lock(ctx context.Context) error {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return errors.Wrap(err, "could not obtain a connection for the MySQL lock")
	}

	seconds := int(math.Ceil(l.opts.Timeout.Seconds()))

	var acquired sql.NullInt64
	if err := conn.GetContext(ctx, &acquired, "SELECT GET_LOCK(?, ?)", l.opts.Key, seconds); err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "could not obtain [%s] exclusive MySQL DB lock for [%d] seconds", l.opts.Key, seconds)
	}

	if !acquired.Valid || acquired.Int64 != 1 {
		_ = conn.Close()
		return errors.Wrapf(ErrLockTimeout, "MySQL lock [%s] after [%d] seconds", l.opts.Key, seconds)
	}

	l.conn = conn

	return nil
}

func (l *MySQLLocker) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotLocked
	}

	defer func() {
		_ = l.conn.Close()
		l.conn = nil
	}()

	if _, err := l.conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", l.opts.Key); err != nil {
		return errors.Wrapf(err, "could not release [%s] exclusive MySQL DB lock", l.opts.Key)
	}

	return nil
}
