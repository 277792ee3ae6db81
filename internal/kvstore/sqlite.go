// File: internal/kvstore/sqlite.go
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// kvEntry is the row model shared by the SQL backends.
type kvEntry struct {
	bun.BaseModel `bun:"table:kv_entries"`

	Namespace string    `bun:"namespace,pk"`
	Key       string    `bun:"entry_key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLite is a Store persisted in a SQLite database through bun.
type SQLite struct {
	db  *bun.DB
	log *zap.Logger
}

// sqlOpen is swapped in tests.
var sqlOpen = sql.Open

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists. path may be a plain file path or a "file:" DSN such as
// "file:test?mode=memory&cache=shared".
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	sqlDB, err := sqlOpen("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serialises writers anyway; a single connection avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)

	s := &SQLite{
		db:  bun.NewDB(sqlDB, sqlitedialect.New()),
		log: logger.Named("sqlite"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	s.log.Debug("SQLite store ready", zap.String("path", path))
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*kvEntry)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create kv_entries table: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, ns Namespace, key string) (string, error) {
	var e kvEntry
	err := s.db.NewSelect().
		Model(&e).
		Where("namespace = ?", string(ns)).
		Where("entry_key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s/%s: %w", ns, key, err)
	}
	return e.Value, nil
}

func (s *SQLite) Set(ctx context.Context, ns Namespace, key, value string) error {
	e := &kvEntry{
		Namespace: string(ns),
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(e).
		On("CONFLICT (namespace, entry_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, ns Namespace, key string) error {
	_, err := s.db.NewDelete().
		Model((*kvEntry)(nil)).
		Where("namespace = ?", string(ns)).
		Where("entry_key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", ns, key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
