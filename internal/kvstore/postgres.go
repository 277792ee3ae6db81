// File: internal/kvstore/postgres.go
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be exercised with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS kv_entries (
            namespace  TEXT NOT NULL,
            entry_key  TEXT NOT NULL,
            value      TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (namespace, entry_key)
        );
    `
	sqlSelectValue = `SELECT value FROM kv_entries WHERE namespace = $1 AND entry_key = $2`
	sqlUpsertValue = `
        INSERT INTO kv_entries (namespace, entry_key, value, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (namespace, entry_key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `
	sqlDeleteValue = `DELETE FROM kv_entries WHERE namespace = $1 AND entry_key = $2`
)

// Postgres is a Store backed by a PostgreSQL table. It lets several server
// replicas share one CSRF token and one set of rate-limit windows.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres verifies the connection and ensures the schema exists.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create kv_entries table: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("postgres"),
	}, nil
}

// OpenPostgres dials url with a pgx pool and wraps it.
func OpenPostgres(ctx context.Context, url string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewPostgres(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (p *Postgres) Get(ctx context.Context, ns Namespace, key string) (string, error) {
	var v string
	err := p.pool.QueryRow(ctx, sqlSelectValue, string(ns), key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s/%s: %w", ns, key, err)
	}
	return v, nil
}

func (p *Postgres) Set(ctx context.Context, ns Namespace, key, value string) error {
	if _, err := p.pool.Exec(ctx, sqlUpsertValue, string(ns), key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", ns, key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, ns Namespace, key string) error {
	if _, err := p.pool.Exec(ctx, sqlDeleteValue, string(ns), key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", ns, key, err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
