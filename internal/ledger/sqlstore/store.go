package sqlstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/denismitr/mortar/internal/ledger"
	"github.com/denismitr/mortar/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var (
	ErrInvalidTableName = errors.New("invalid ledger table name")
	ErrEmptyFilter      = errors.New("refusing to delete ledger records without a filter")
)

var tableNameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// SQLStore persists ledger records in a regular database table
type SQLStore struct {
	db      *sqlx.DB
	table   string
	dialect Dialect
	lg      logger.Logger
}

var _ ledger.Store = (*SQLStore)(nil)

func New(db *sqlx.DB, table string, lg logger.Logger) (*SQLStore, error) {
	if table == "" {
		table = ledger.DefaultTable
	}

	if !tableNameRegexp.MatchString(table) {
		return nil, errors.Wrapf(ErrInvalidTableName, "[%s]", table)
	}

	d, err := DialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}

	if lg == nil {
		lg = &logger.NullLogger{}
	}

	return &SQLStore{db: db, table: table, dialect: d, lg: lg}, nil
}

func (s *SQLStore) Table() string {
	return s.table
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) HasTable(ctx context.Context) (bool, error) {
	q := s.db.Rebind(s.dialect.HasTableQuery())
	s.lg.SQL(q, s.table)

	var count int
	if err := s.db.GetContext(ctx, &count, q, s.table); err != nil {
		return false, errors.Wrapf(err, "could not check if table [%s] exists", s.table)
	}

	return count > 0, nil
}

func (s *SQLStore) CreateTable(ctx context.Context) error {
	q := s.dialect.CreateTableQuery(s.table)
	s.lg.SQL(q)

	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return errors.Wrapf(err, "could not create table [%s]", s.table)
	}

	return nil
}

func (s *SQLStore) Create(ctx context.Context, name string, batch int) error {
	q := s.db.Rebind(fmt.Sprintf("INSERT INTO %s (migration, batch) VALUES (?, ?)", s.table))
	s.lg.SQL(q, name, batch)

	if _, err := s.db.ExecContext(ctx, q, name, batch); err != nil {
		return errors.Wrapf(err, "could not insert [%s]", name)
	}

	return nil
}

func (s *SQLStore) Select(ctx context.Context, f ledger.Filter) (ledger.Records, error) {
	where, args, err := s.where(f)
	if err != nil {
		return nil, err
	}

	order := ledger.ASC
	if f.Sort == ledger.DESC {
		order = ledger.DESC
	}

	q := s.db.Rebind(fmt.Sprintf(
		"SELECT migration_id, migration, batch FROM %s%s ORDER BY migration_id %s",
		s.table, where, order,
	))
	s.lg.SQL(q, args...)

	var rs ledger.Records
	if err := s.db.SelectContext(ctx, &rs, q, args...); err != nil {
		return nil, errors.Wrapf(err, "could not select from [%s]", s.table)
	}

	return rs, nil
}

func (s *SQLStore) Delete(ctx context.Context, f ledger.Filter) (int64, error) {
	where, args, err := s.where(f)
	if err != nil {
		return 0, err
	}

	if where == "" {
		return 0, ErrEmptyFilter
	}

	q := s.db.Rebind(fmt.Sprintf("DELETE FROM %s%s", s.table, where))
	s.lg.SQL(q, args...)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "could not delete from [%s]", s.table)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "could not read affected rows")
	}

	return n, nil
}

func (s *SQLStore) MaxBatch(ctx context.Context) (int, error) {
	q := fmt.Sprintf("SELECT COALESCE(MAX(batch), 0) FROM %s", s.table)
	s.lg.SQL(q)

	var batch int
	if err := s.db.GetContext(ctx, &batch, q); err != nil {
		return 0, errors.Wrapf(err, "could not read max batch from [%s]", s.table)
	}

	return batch, nil
}

func (s *SQLStore) where(f ledger.Filter) (string, []interface{}, error) {
	var conds []string
	var args []interface{}

	if len(f.Names) > 0 {
		conds = append(conds, "migration IN (?)")
		args = append(args, f.Names)
	}

	if f.Batch > 0 {
		conds = append(conds, "batch = ?")
		args = append(args, f.Batch)
	}

	if len(conds) == 0 {
		return "", nil, nil
	}

	where := " WHERE " + strings.Join(conds, " AND ")
	if len(f.Names) == 0 {
		return where, args, nil
	}

	where, args, err := sqlx.In(where, args...)
	if err != nil {
		return "", nil, errors.Wrap(err, "could not expand ledger filter")
	}

	return where, args, nil
}
