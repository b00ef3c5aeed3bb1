package postgres

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps two-factor state in PostgreSQL. Recovery code hashes live in
// a text[] column so single-code consumption is one conditional UPDATE.
type Store struct {
	pool *pgxpool.Pool
	dsn  string
}

var _ store.Store = (*Store)(nil)

// NewStore wraps pool. dsn must be the url the pool was built from, it is
// reused by ApplyMigrations.
func NewStore(pool *pgxpool.Pool, dsn string) *Store {
	return &Store{pool: pool, dsn: dsn}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// hashes never hands pgx a nil slice, which would encode as NULL.
func hashes(h []string) []string {
	if h == nil {
		return []string{}
	}
	return h
}

// loaded maps an empty array back to nil so records compare equal across drivers.
func loaded(h []string) []string {
	if len(h) == 0 {
		return nil
	}
	return h
}
