package postgres

import (
	"context"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
	"github.com/Strob0t/personagov/internal/port/database"
)

// Store implements database.Store using PostgreSQL. Every statement runs
// through the datastore.Manager so it is pooled, timed and counted, and joins
// the transaction carried by ctx when there is one.
type Store struct {
	db *datastore.Manager
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection manager.
func NewStore(db *datastore.Manager) *Store {
	return &Store{db: db}
}

// InTx runs fn in a single transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.InTx(ctx, fn)
}

// queryOne runs a single-row statement and hands the row to scan.
func (s *Store) queryOne(ctx context.Context, op, sql string, args []any, scan func(row scannable) error) error {
	return s.db.Do(ctx, op, func(ctx context.Context, q datastore.Querier) error {
		return scan(q.QueryRow(ctx, sql, args...))
	})
}
