package migration

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrInvalidMigrationName = errors.New("invalid migration name")
	ErrAlreadyRegistered    = errors.New("migration factory is already registered")
	ErrMalformedSQLFile     = errors.New("malformed sql migration file")
	ErrNoExecutor           = errors.New("schema has no executor bound")
)

type (
	// Unit is a single reversible schema change
	Unit interface {
		Apply(ctx context.Context) error
		Revert(ctx context.Context) error
		Schema() *Schema
	}

	// Factory creates a fresh unit bound to the given schema handle
	Factory func(s *Schema) Unit

	// Func is the signature of an apply or revert body
	Func func(ctx context.Context, s *Schema) error
)

// Base can be embedded into user defined units to satisfy the Schema part of the Unit interface
type Base struct {
	schema *Schema
}

func NewBase(s *Schema) Base {
	return Base{schema: s}
}

func (b Base) Schema() *Schema {
	return b.schema
}

type funcUnit struct {
	Base
	apply  Func
	revert Func
}

func (u *funcUnit) Apply(ctx context.Context) error {
	if u.apply == nil {
		return nil
	}

	return u.apply(ctx, u.schema)
}

func (u *funcUnit) Revert(ctx context.Context) error {
	if u.revert == nil {
		return nil
	}

	return u.revert(ctx, u.schema)
}

// Funcs builds a factory out of plain apply and revert functions,
// a nil function is treated as an empty body
func Funcs(apply, revert Func) Factory {
	return func(s *Schema) Unit {
		return &funcUnit{Base: NewBase(s), apply: apply, revert: revert}
	}
}

// Statements builds a factory that executes raw SQL statements on apply and revert
func Statements(apply, revert []string) Factory {
	return Funcs(
		func(ctx context.Context, s *Schema) error {
			return s.Exec(ctx, apply...)
		},
		func(ctx context.Context, s *Schema) error {
			return s.Exec(ctx, revert...)
		},
	)
}
