package lock

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PostgresLocker uses session level advisory locks keyed by the hashed lock key
type PostgresLocker struct {
	db   *sqlx.DB
	opts Options
	id   int64
	conn *sqlx.Conn
}

var _ Locker = (*PostgresLocker)(nil)

func NewPostgresLocker(db *sqlx.DB, opts Options) *PostgresLocker {
	opts = opts.withDefaults()
	return &PostgresLocker{db: db, opts: opts, id: HashKey(opts.Key)}
}

func (l *PostgresLocker) Lock(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	conn, err := l.db.Connx(ctx)
	if err != nil {
		return errors.Wrap(err, "could not obtain a connection for the Postgres lock")
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.id); err != nil {
		_ = conn.Close()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(ErrLockTimeout, "Postgres advisory lock [%s:%d]", l.opts.Key, l.id)
		}

		return errors.Wrapf(err, "could not obtain [%s:%d] Postgres advisory lock", l.opts.Key, l.id)
	}

	l.conn = conn

	return nil
}

func (l *PostgresLocker) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotLocked
	}

	defer func() {
		_ = l.conn.Close()
		l.conn = nil
	}()

	if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id); err != nil {
		return errors.Wrapf(err, "could not release [%s:%d] Postgres advisory lock", l.opts.Key, l.id)
	}

	return nil
}
