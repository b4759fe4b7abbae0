package resolver

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/denismitr/mortar/internal/logger"
	"github.com/denismitr/mortar/migration"
	"github.com/pkg/errors"
)

var ErrMigrationNotFound = errors.New("migration not found")

// MigrationNotFoundError is returned when a filename cannot be mapped to a unit
type MigrationNotFoundError struct {
	Filename string
	Path     string
	Cause    error
}

func (e *MigrationNotFoundError) Error() string {
	msg := "migration [" + e.Filename + "] not found at [" + e.Path + "]"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MigrationNotFoundError) Is(target error) bool {
	return target == ErrMigrationNotFound
}

func (e *MigrationNotFoundError) Unwrap() error {
	return e.Cause
}

// Source gives the resolver access to raw migration files
type Source interface {
	DottedPath() string
	Read(filename string) ([]byte, error)
}

// Resolver maps migration filenames to units bound to one connection
type Resolver struct {
	registry   *migration.Registry
	source     Source
	connection string
	ex         migration.Executor
	dry        bool
	lg         logger.Logger
}

func New(
	registry *migration.Registry,
	source Source,
	connection string,
	ex migration.Executor,
	dry bool,
	lg logger.Logger,
) *Resolver {
	if registry == nil {
		registry = migration.DefaultRegistry
	}

	if lg == nil {
		lg = &logger.NullLogger{}
	}

	return &Resolver{
		registry:   registry,
		source:     source,
		connection: connection,
		ex:         ex,
		dry:        dry,
		lg:         lg,
	}
}

// Locate finds the unit factory for the filename, registered units take
// precedence over plain SQL files
func (r *Resolver) Locate(filename string) (migration.Factory, error) {
	path := r.lookupPath(filename)

	if qn, err := migration.QualifiedName(filename); err == nil {
		if f, ok := r.registry.Lookup(qn); ok {
			return f, nil
		}
	}

	if !strings.EqualFold(filepath.Ext(filename), ".sql") || r.source == nil {
		return nil, &MigrationNotFoundError{Filename: filename, Path: path}
	}

	b, err := r.source.Read(filename)
	if err != nil {
		return nil, &MigrationNotFoundError{Filename: filename, Path: path, Cause: err}
	}

	f, err := migration.ParseSQL(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse [%s]", filename)
	}

	return f.Factory(), nil
}

// Resolve locates the unit and binds a fresh instance to the connection
func (r *Resolver) Resolve(filename string) (migration.Unit, error) {
	f, err := r.Locate(filename)
	if err != nil {
		return nil, err
	}

	u := f(migration.NewSchema(r.connection, r.ex, r.dry, r.lg))
	if u == nil {
		return nil, &MigrationNotFoundError{Filename: filename, Path: r.lookupPath(filename)}
	}

	return u, nil
}

func (r *Resolver) lookupPath(filename string) string {
	var parts []string
	if r.source != nil && r.source.DottedPath() != "" {
		parts = append(parts, r.source.DottedPath())
	}

	parts = append(parts, migration.ModuleName(filename))

	if id, err := migration.Identifier(filename); err == nil {
		parts = append(parts, id)
	}

	return strings.Join(parts, ".")
}
