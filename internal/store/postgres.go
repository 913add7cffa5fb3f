package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx. Repository
// methods take a Querier so the same query runs standalone or inside a
// caller-owned transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// DB is what services hold instead of a concrete pool: single queries plus
// the ability to open a transaction. *pgxpool.Pool satisfies it.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InTx runs fn inside a transaction with a bounded deadline. The transaction
// is rolled back on error or deadline expiry.
func InTx(ctx context.Context, db DB, timeout time.Duration, fn func(ctx context.Context, tx pgx.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := db.Begin(txCtx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(txCtx)

	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(txCtx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
