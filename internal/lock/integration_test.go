package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// openFromEnv connects to a live server, the test is skipped when the variable is not set
func openFromEnv(t *testing.T, driver, env string) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s is not set", env)
	}

	db, err := sqlx.Open(driver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx))

	return db
}

func assertExclusive(t *testing.T, first, second Locker) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, first.Lock(ctx))

	err := second.Lock(ctx)
	assert.True(t, errors.Is(err, ErrLockTimeout), "expected lock timeout, got %v", err)

	require.NoError(t, first.Unlock(ctx))

	require.NoError(t, second.Lock(ctx))
	require.NoError(t, second.Unlock(ctx))
}

func TestMySQLLocker(t *testing.T) {
	db := openFromEnv(t, "mysql", "MORTAR_MYSQL_DSN")

	opts := Options{Key: "mortar_integration", Timeout: time.Second}

	t.Run("it will let only one holder in", func(t *testing.T) {
		assertExclusive(t, NewMySQLLocker(db, opts), NewMySQLLocker(db, opts))
	})
}

func TestPostgresLocker(t *testing.T) {
	db := openFromEnv(t, "pgx", "MORTAR_POSTGRES_URL")

	opts := Options{Key: "mortar_integration", Timeout: time.Second}

	t.Run("it will let only one holder in", func(t *testing.T) {
		assertExclusive(t, NewPostgresLocker(db, opts), NewPostgresLocker(db, opts))
	})
}
