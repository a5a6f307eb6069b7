// Package database wraps sqlx with context-scoped transactions. Queries
// issued with a context returned by GetTx run inside that transaction;
// everything else runs on the pool.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DB is the query surface repositories depend on
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	// GetTx begins a transaction and returns a context that routes all
	// subsequent DB calls through it. Reuses an in-flight transaction if
	// the context already carries one.
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	Unsafe() DB
	Ping(ctx context.Context) error
	Close() error
}

// Tx controls a transaction opened by GetTx
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type txCtxKey struct{}

// Settings configures the connection pool
type Settings struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RetryCount      int
}

func (s Settings) dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.Name, s.SSLMode)
}

type sqlxDB struct {
	db *sqlx.DB
}

// Connect opens a PostgreSQL pool, retrying the initial ping
func Connect(ctx context.Context, settings Settings) (DB, error) {
	db, err := sqlx.Open("postgres", settings.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(settings.MaxOpenConns)
	db.SetMaxIdleConns(settings.MaxIdleConns)
	db.SetConnMaxLifetime(settings.ConnMaxLifetime)

	retries := settings.RetryCount
	if retries < 1 {
		retries = 1
	}
	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if attempt >= retries {
			db.Close()
			return nil, fmt.Errorf("failed to ping database after %d attempts: %w", attempt, err)
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	return &sqlxDB{db: db}, nil
}

// NewFromSqlx wraps an existing sqlx handle, used by integration tests
func NewFromSqlx(db *sqlx.DB) DB {
	return &sqlxDB{db: db}
}

func txFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txCtxKey{}).(*sqlx.Tx)
	return tx, ok
}

func (d *sqlxDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx, ok := txFromContext(ctx); ok {
		return tx.ExecContext(ctx, query, args...)
	}
	return d.db.ExecContext(ctx, query, args...)
}

func (d *sqlxDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.GetContext(ctx, dest, query, args...)
	}
	return d.db.GetContext(ctx, dest, query, args...)
}

func (d *sqlxDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.SelectContext(ctx, dest, query, args...)
	}
	return d.db.SelectContext(ctx, dest, query, args...)
}

func (d *sqlxDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if tx, ok := txFromContext(ctx); ok {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return d.db.QueryRowContext(ctx, query, args...)
}

func (d *sqlxDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	if _, ok := txFromContext(ctx); ok {
		// Nested call joins the outer transaction; only the outer owner
		// commits or rolls back
		return ctx, noopTx{}, nil
	}

	tx, err := d.db.BeginTxx(ctx, opts)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txCtxKey{}, tx), sqlxTx{tx: tx}, nil
}

func (d *sqlxDB) Unsafe() DB {
	return &sqlxDB{db: d.db.Unsafe()}
}

func (d *sqlxDB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *sqlxDB) Close() error {
	return d.db.Close()
}

type sqlxTx struct {
	tx *sqlx.Tx
}

func (t sqlxTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

// Rollback after a successful commit is a no-op
func (t sqlxTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

type noopTx struct{}

func (noopTx) Commit(ctx context.Context) error   { return nil }
func (noopTx) Rollback(ctx context.Context) error { return nil }
