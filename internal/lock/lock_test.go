package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestHashKey(t *testing.T) {
	assert.Equal(t, HashKey("mortar_migrations"), HashKey("mortar_migrations"))
	assert.NotEqual(t, HashKey("mortar_migrations"), HashKey("other_migrations"))
	assert.True(t, HashKey("anything") >= 0)
	assert.Equal(t, int64(0x4bf29ce484222325), HashKey(""))
}

func TestNullLocker(t *testing.T) {
	var l Locker = NullLocker{}
	assert.NoError(t, l.Lock(context.Background()))
	assert.NoError(t, l.Unlock(context.Background()))
}

func TestFor(t *testing.T) {
	tt := []struct {
		driver string
		want   interface{}
	}{
		{"mysql", &MySQLLocker{}},
		{"pgx", &PostgresLocker{}},
		{"sqlite", &TableLocker{}},
		{"sqlite3", &TableLocker{}},
	}

	for _, tc := range tt {
		t.Run(tc.driver, func(t *testing.T) {
			l, err := For(sqlx.NewDb(nil, tc.driver), "", Options{})
			require.NoError(t, err)
			assert.IsType(t, tc.want, l)
		})
	}

	t.Run("unknown driver", func(t *testing.T) {
		_, err := For(sqlx.NewDb(nil, "oracle"), "", Options{})
		assert.True(t, errors.Is(err, ErrUnsupportedDriver))
	})
}

func TestTableLocker(t *testing.T) {
	ctx := context.Background()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	opts := Options{Timeout: 20 * time.Millisecond}

	first := NewTableLocker(db, "", opts)
	first.interval = 5 * time.Millisecond

	second := NewTableLocker(db, "", opts)
	second.interval = 5 * time.Millisecond

	require.NotEqual(t, first.Owner(), second.Owner())

	t.Run("the first owner takes the lock", func(t *testing.T) {
		require.NoError(t, first.Lock(ctx))
	})

	t.Run("the second owner times out while the lock is held", func(t *testing.T) {
		err := second.Lock(ctx)
		assert.True(t, errors.Is(err, ErrLockTimeout), "%v", err)
	})

	t.Run("only the owner can release the lock", func(t *testing.T) {
		err := second.Unlock(ctx)
		assert.True(t, errors.Is(err, ErrNotLocked))

		require.NoError(t, first.Unlock(ctx))
	})

	t.Run("the lock can be taken again after release", func(t *testing.T) {
		require.NoError(t, second.Lock(ctx))
		require.NoError(t, second.Unlock(ctx))
	})
}

func openMemoryDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestTableLocker_Contention(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)

	opts := Options{Timeout: 10 * time.Second}

	var (
		wg      sync.WaitGroup
		holders int32
		overlap int32
		errs    = make(chan error, 2)
	)

	for i := 0; i < 2; i++ {
		l := NewTableLocker(db, "", opts)
		l.interval = time.Millisecond

		wg.Add(1)
		go func() {
			defer wg.Done()

			for n := 0; n < 200; n++ {
				if err := l.Lock(ctx); err != nil {
					errs <- err
					return
				}

				if atomic.AddInt32(&holders, 1) > 1 {
					atomic.AddInt32(&overlap, 1)
				}
				atomic.AddInt32(&holders, -1)

				if err := l.Unlock(ctx); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int32(0), overlap)
}

func TestTableLocker_StaleLock(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	l := NewTableLocker(db, "", Options{Timeout: 20 * time.Millisecond, StaleAfter: time.Hour})
	l.interval = 5 * time.Millisecond
	l.now = func() time.Time { return now }

	require.NoError(t, l.ensureTable(ctx))

	seed := func(owner string, acquiredAt time.Time) {
		_, err := db.Exec("DELETE FROM migrations_lock")
		require.NoError(t, err)
		_, err = db.Exec(
			"INSERT INTO migrations_lock (lock_id, lock_key, owner, acquired_at) VALUES (1, ?, ?, ?)",
			DefaultKey, owner, acquiredAt.Unix(),
		)
		require.NoError(t, err)
	}

	t.Run("it will wait for a fresh lock of another owner", func(t *testing.T) {
		seed("crashed-run", now.Add(-time.Minute))

		err := l.Lock(ctx)
		assert.True(t, errors.Is(err, ErrLockTimeout), "%v", err)
	})

	t.Run("it will take over a stale lock of another owner", func(t *testing.T) {
		seed("crashed-run", now.Add(-2*time.Hour))

		require.NoError(t, l.Lock(ctx))

		var owner string
		require.NoError(t, db.Get(&owner, "SELECT owner FROM migrations_lock WHERE lock_id = 1"))
		assert.Equal(t, l.Owner(), owner)

		require.NoError(t, l.Unlock(ctx))
	})

	t.Run("it will force release a lock of another owner", func(t *testing.T) {
		seed("crashed-run", now)

		require.NoError(t, l.Force(ctx))
		require.NoError(t, l.Lock(ctx))
		require.NoError(t, l.Unlock(ctx))
	})
}
