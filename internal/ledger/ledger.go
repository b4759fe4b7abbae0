package ledger

import (
	"context"

	"github.com/denismitr/mortar/internal/logger"
	"github.com/pkg/errors"
)

const DefaultTable = "migrations"

var (
	ErrDuplicateMigration = errors.New("migration is already recorded in the ledger")
	ErrInvalidBatch       = errors.New("batch must be a positive integer")
)

type Sort string

const (
	ASC  Sort = "ASC"
	DESC Sort = "DESC"
)

type (
	// Record is a single applied migration
	Record struct {
		ID        int64  `db:"migration_id"`
		Migration string `db:"migration"`
		Batch     int    `db:"batch"`
	}

	Records []Record

	// Filter narrows down Select and Delete, zero values mean no restriction
	Filter struct {
		Names []string
		Batch int
		Sort  Sort
	}

	// Store is the narrow record store the ledger is persisted with
	Store interface {
		HasTable(ctx context.Context) (bool, error)
		CreateTable(ctx context.Context) error
		Create(ctx context.Context, name string, batch int) error
		Select(ctx context.Context, f Filter) (Records, error)
		Delete(ctx context.Context, f Filter) (int64, error)
		MaxBatch(ctx context.Context) (int, error)
	}
)

func (rs Records) Names() []string {
	names := make([]string, len(rs))
	for i := range rs {
		names[i] = rs[i].Migration
	}
	return names
}

// Index maps every recorded migration name to its record
func (rs Records) Index() map[string]Record {
	idx := make(map[string]Record, len(rs))
	for _, r := range rs {
		idx[r.Migration] = r
	}
	return idx
}

// Ledger is the single source of truth about applied migrations
type Ledger struct {
	store Store
	lg    logger.Logger
}

func New(store Store, lg logger.Logger) *Ledger {
	if lg == nil {
		lg = &logger.NullLogger{}
	}

	return &Ledger{store: store, lg: lg}
}

// EnsureTable creates the ledger table when absent and reports whether it did
func (l *Ledger) EnsureTable(ctx context.Context) (bool, error) {
	exists, err := l.store.HasTable(ctx)
	if err != nil {
		return false, errors.Wrap(err, "could not check the ledger table")
	}

	if exists {
		return false, nil
	}

	if err := l.store.CreateTable(ctx); err != nil {
		return false, errors.Wrap(err, "could not create the ledger table")
	}

	l.lg.Debugf("ledger table created")

	return true, nil
}

// All returns records in insertion order
func (l *Ledger) All(ctx context.Context) (Records, error) {
	return l.selectAll(ctx, ASC)
}

// AllReversed returns records with the most recent first
func (l *Ledger) AllReversed(ctx context.Context) (Records, error) {
	return l.selectAll(ctx, DESC)
}

func (l *Ledger) Names(ctx context.Context) ([]string, error) {
	rs, err := l.All(ctx)
	if err != nil {
		return nil, err
	}

	return rs.Names(), nil
}

func (l *Ledger) CurrentBatch(ctx context.Context) (int, error) {
	batch, err := l.store.MaxBatch(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "could not read current batch")
	}

	return batch, nil
}

// LatestBatchNames lists the names of the most recent batch, last inserted first
func (l *Ledger) LatestBatchNames(ctx context.Context) ([]string, error) {
	batch, err := l.CurrentBatch(ctx)
	if err != nil {
		return nil, err
	}

	if batch == 0 {
		return nil, nil
	}

	rs, err := l.store.Select(ctx, Filter{Batch: batch, Sort: DESC})
	if err != nil {
		return nil, errors.Wrapf(err, "could not read batch %d", batch)
	}

	return rs.Names(), nil
}

// Record inserts a single migration into the given batch
func (l *Ledger) Record(ctx context.Context, name string, batch int) error {
	if batch < 1 {
		return errors.Wrapf(ErrInvalidBatch, "got %d for [%s]", batch, name)
	}

	existing, err := l.store.Select(ctx, Filter{Names: []string{name}})
	if err != nil {
		return errors.Wrapf(err, "could not check ledger for [%s]", name)
	}

	if len(existing) > 0 {
		return errors.Wrapf(ErrDuplicateMigration, "[%s] in batch %d", name, existing[0].Batch)
	}

	if err := l.store.Create(ctx, name, batch); err != nil {
		return errors.Wrapf(err, "could not record [%s] in batch %d", name, batch)
	}

	return nil
}

// Remove deletes a migration from the ledger, absent names are ignored
func (l *Ledger) Remove(ctx context.Context, name string) error {
	return l.RemoveMany(ctx, []string{name})
}

func (l *Ledger) RemoveMany(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	n, err := l.store.Delete(ctx, Filter{Names: names})
	if err != nil {
		return errors.Wrapf(err, "could not remove %v from the ledger", names)
	}

	l.lg.Debugf("removed %d of %d ledger records", n, len(names))

	return nil
}

// RemoveBatch deletes every record of the batch
func (l *Ledger) RemoveBatch(ctx context.Context, batch int) error {
	if batch < 1 {
		return nil
	}

	if _, err := l.store.Delete(ctx, Filter{Batch: batch}); err != nil {
		return errors.Wrapf(err, "could not remove batch %d from the ledger", batch)
	}

	return nil
}

func (l *Ledger) selectAll(ctx context.Context, s Sort) (Records, error) {
	rs, err := l.store.Select(ctx, Filter{Sort: s})
	if err != nil {
		return nil, errors.Wrap(err, "could not read the ledger")
	}

	return rs, nil
}
