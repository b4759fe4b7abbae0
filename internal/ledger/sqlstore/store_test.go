package sqlstore

import (
	"context"
	"strings"
	"testing"

	"github.com/denismitr/mortar/internal/ledger"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSqlite(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestDialectFor(t *testing.T) {
	tt := []struct {
		driver string
		name   string
	}{
		{"sqlite3", "sqlite"},
		{"sqlite", "sqlite"},
		{"mysql", "mysql"},
		{"pgx", "postgres"},
		{"postgres", "postgres"},
	}

	for _, tc := range tt {
		t.Run(tc.driver, func(t *testing.T) {
			d, err := DialectFor(tc.driver)
			require.NoError(t, err)
			assert.Equal(t, tc.name, d.Name())
			assert.True(t, strings.Contains(d.CreateTableQuery("foo"), "CREATE TABLE IF NOT EXISTS foo"))
		})
	}

	t.Run("it will reject an unknown driver", func(t *testing.T) {
		_, err := DialectFor("oracle")
		assert.True(t, errors.Is(err, ErrUnsupportedDriver))
	})
}

func TestNew(t *testing.T) {
	db := openSqlite(t)

	t.Run("default table", func(t *testing.T) {
		s, err := New(db, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "migrations", s.Table())
		assert.Equal(t, "sqlite", s.Dialect().Name())
	})

	t.Run("custom table", func(t *testing.T) {
		s, err := New(db, "schema_history", nil)
		require.NoError(t, err)
		assert.Equal(t, "schema_history", s.Table())
	})

	t.Run("it will reject an unsafe table name", func(t *testing.T) {
		_, err := New(db, "migrations; DROP TABLE users", nil)
		assert.True(t, errors.Is(err, ErrInvalidTableName))
	})
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()
	s, err := New(openSqlite(t), "schema_history", nil)
	require.NoError(t, err)

	exists, err := s.HasTable(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.CreateTable(ctx))

	exists, err = s.HasTable(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Create(ctx, "one.sql", 1))
	require.NoError(t, s.Create(ctx, "two.sql", 1))
	require.NoError(t, s.Create(ctx, "three.sql", 2))

	t.Run("the unique constraint holds", func(t *testing.T) {
		assert.Error(t, s.Create(ctx, "one.sql", 3))
	})

	t.Run("select by names and batch", func(t *testing.T) {
		rs, err := s.Select(ctx, ledger.Filter{Names: []string{"one.sql", "three.sql"}, Sort: ledger.DESC})
		require.NoError(t, err)
		assert.Equal(t, []string{"three.sql", "one.sql"}, rs.Names())

		rs, err = s.Select(ctx, ledger.Filter{Batch: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"one.sql", "two.sql"}, rs.Names())

		rs, err = s.Select(ctx, ledger.Filter{Names: []string{"two.sql"}, Batch: 2})
		require.NoError(t, err)
		assert.Empty(t, rs)
	})

	t.Run("max batch", func(t *testing.T) {
		batch, err := s.MaxBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, batch)
	})

	t.Run("delete requires a filter", func(t *testing.T) {
		_, err := s.Delete(ctx, ledger.Filter{})
		assert.True(t, errors.Is(err, ErrEmptyFilter))
	})

	t.Run("delete reports affected rows", func(t *testing.T) {
		n, err := s.Delete(ctx, ledger.Filter{Names: []string{"two.sql", "missing.sql"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
