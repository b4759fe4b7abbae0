package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/denismitr/mortar/internal/logger"
	"github.com/denismitr/mortar/migration"
	"github.com/pkg/errors"
)

const (
	DefaultDirectory = "databases/migrations"
	DefaultExtension = ".sql"

	createdAtLayout = "2006_01_02_150405"
)

var (
	ErrDirectoryNotFound      = errors.New("migrations directory not found")
	ErrMigrationAlreadyExists = errors.New("migration already exists")
	ErrEmptyMigrationName     = errors.New("migration name is empty")
)

// DefaultMarkers are package marker files that never hold a migration
var DefaultMarkers = []string{"doc.go"}

// LocalDirectory lists migration files from a directory on the local filesystem
type LocalDirectory struct {
	path    string
	markers map[string]struct{}
	lg      logger.Logger
}

func NewLocalDirectory(path string, lg logger.Logger, markers ...string) *LocalDirectory {
	if path == "" {
		path = DefaultDirectory
	}

	if len(markers) == 0 {
		markers = DefaultMarkers
	}

	if lg == nil {
		lg = &logger.NullLogger{}
	}

	m := make(map[string]struct{}, len(markers))
	for _, marker := range markers {
		m[marker] = struct{}{}
	}

	return &LocalDirectory{path: path, markers: m, lg: lg}
}

func (d *LocalDirectory) Path() string {
	return d.path
}

// DottedPath is the directory in the dotted form used by lookup paths
func (d *LocalDirectory) DottedPath() string {
	p := filepath.ToSlash(filepath.Clean(d.path))
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	return strings.ReplaceAll(p, "/", ".")
}

func (d *LocalDirectory) IsValid() bool {
	info, err := os.Stat(d.path)
	if err != nil {
		return false
	}

	return info.IsDir()
}

// List reads the directory on every call and returns migration filenames in ascending order
func (d *LocalDirectory) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrDirectoryNotFound, "[%s]", d.path)
		}

		return nil, errors.Wrapf(err, "could not read migrations directory [%s]", d.path)
	}

	var result []string
	for _, entry := range entries {
		if entry.IsDir() || d.skip(entry.Name()) {
			continue
		}

		result = append(result, entry.Name())
	}

	sort.Strings(result)

	d.lg.Debugf("found %d migration files in [%s]", len(result), d.path)

	return result, nil
}

// Read returns the content of a migration file
func (d *LocalDirectory) Read(filename string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(d.path, filepath.Base(filename)))
	if err != nil {
		return nil, errors.Wrapf(err, "could not read migration [%s]", filename)
	}

	return b, nil
}

// Create writes a new SQL migration stub named after the current time
func (d *LocalDirectory) Create(now time.Time, name string) (string, error) {
	snake := migration.Snakify(name)
	if snake == "" {
		return "", ErrEmptyMigrationName
	}

	if !d.IsValid() {
		return "", errors.Wrapf(ErrDirectoryNotFound, "[%s]", d.path)
	}

	filename := now.Format(createdAtLayout) + "_" + snake + DefaultExtension
	path := filepath.Join(d.path, filename)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return "", errors.Wrapf(ErrMigrationAlreadyExists, "[%s]", filename)
		}

		return "", errors.Wrapf(err, "could not create file [%s]", path)
	}

	if _, err := f.WriteString(migration.Stub()); err != nil {
		_ = f.Close()
		return "", errors.Wrapf(err, "could not write file [%s]", path)
	}

	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "could not close file [%s]", path)
	}

	return filename, nil
}

func (d *LocalDirectory) skip(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "_test.go") {
		return true
	}

	_, ok := d.markers[name]
	return ok
}
