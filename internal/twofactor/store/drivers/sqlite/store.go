package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/store"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	dsn string
}

var _ store.Store = (*Store)(nil)

// NewStore opens the database at dsn. Call ApplyMigrations before use.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// A single connection serialises writers inside the process and keeps
	// ":memory:" databases from splitting across pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn}, nil
}

// FileDSN builds a DSN for a database file with WAL and a busy timeout.
func FileDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx executes fn within a transaction, automatically handling commit/rollback.
// fn must only use the querier it is handed; the pool holds one connection.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err // rollback happens in defer
	}

	return tx.Commit()
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// joinHashes and splitHashes store hash sets as a space separated column,
// hex digests never contain spaces.
func joinHashes(hashes []string) string {
	return strings.Join(hashes, " ")
}

func splitHashes(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
