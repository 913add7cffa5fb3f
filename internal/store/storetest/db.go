// Package storetest provides in-memory stand-ins for the store interfaces so
// service tests can exercise transactional code paths without Postgres.
package storetest

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB satisfies store.DB. Every transaction it opens records whether it ended
// in a commit or a rollback.
type DB struct {
	Commits   int
	Rollbacks int
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &Tx{db: db}, nil
}

// Tx satisfies pgx.Tx for services whose repositories are stubbed out; none
// of the query methods return live data.
type Tx struct {
	db   *DB
	done bool
}

func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *Tx) Commit(ctx context.Context) error {
	if !t.done {
		t.done = true
		t.db.Commits++
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.Rollbacks++
	return nil
}

func (t *Tx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *Tx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }

func (t *Tx) Conn() *pgx.Conn { return nil }
