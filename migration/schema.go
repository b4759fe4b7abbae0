package migration

import (
	"context"
	"database/sql"
	"strings"

	"github.com/denismitr/mortar/internal/logger"
	"github.com/pkg/errors"
)

type (
	Executor interface {
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	}

	// Blueprint is the compiled output of a schema building DSL
	Blueprint interface {
		ToSQL() string
	}

	// RawBlueprint is a blueprint that is already plain SQL text
	RawBlueprint string
)

func (b RawBlueprint) ToSQL() string {
	return string(b)
}

// Schema is the handle a unit uses to change the database schema.
// In dry mode SQL is compiled and kept for display but never executed.
type Schema struct {
	connection string
	ex         Executor
	lg         logger.Logger
	dry        bool

	blueprint  Blueprint
	statements []string
}

func NewSchema(connection string, ex Executor, dry bool, lg logger.Logger) *Schema {
	if lg == nil {
		lg = &logger.NullLogger{}
	}

	return &Schema{
		connection: connection,
		ex:         ex,
		dry:        dry,
		lg:         lg,
	}
}

func (s *Schema) Connection() string {
	return s.connection
}

// Dry switches the schema into display mode
func (s *Schema) Dry() *Schema {
	s.dry = true
	return s
}

func (s *Schema) IsDry() bool {
	return s.dry
}

// Exec runs raw SQL statements one by one in order
func (s *Schema) Exec(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		s.statements = append(s.statements, stmt)
		if err := s.exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Build compiles the blueprint and executes the resulting SQL unless in dry mode
func (s *Schema) Build(ctx context.Context, bp Blueprint) error {
	s.blueprint = bp
	return s.exec(ctx, bp.ToSQL())
}

// SQL returns the last compiled SQL, the blueprint takes precedence over raw statements
func (s *Schema) SQL() string {
	if s.blueprint != nil {
		return s.blueprint.ToSQL()
	}

	return strings.Join(s.statements, "\n")
}

func (s *Schema) exec(ctx context.Context, query string) error {
	if s.dry {
		s.lg.Debugf("dry mode, skipping sql: %s", query)
		return nil
	}

	if s.ex == nil {
		return errors.Wrapf(ErrNoExecutor, "connection [%s]", s.connection)
	}

	s.lg.SQL(query)

	if _, err := s.ex.ExecContext(ctx, query); err != nil {
		return errors.Wrapf(err, "could not execute [%s] on connection [%s]", query, s.connection)
	}

	return nil
}
