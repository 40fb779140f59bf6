// Package store persists what a capture run learns: the content hashes
// already uploaded to the render service, the resource cache between runs,
// and the screenshots and DOM descriptors kept as artifacts.
//
// The sqlite side is opened with production pragmas:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// In tests:
//
//	db := store.OpenMemory(t)
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	hash         TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	size         INTEGER NOT NULL,
	uploaded_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS resources (
	url          TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	hash         TEXT NOT NULL,
	content      BLOB,
	updated_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dependencies (
	url TEXT NOT NULL REFERENCES resources(url) ON DELETE CASCADE,
	dep TEXT NOT NULL,
	PRIMARY KEY (url, dep)
);
CREATE TABLE IF NOT EXISTS metrics (
	name      TEXT NOT NULL,
	at        INTEGER NOT NULL,
	value     REAL NOT NULL,
	unit      TEXT NOT NULL DEFAULT '',
	labels    TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_at ON metrics(name, at DESC);
`

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// Open opens the sqlite database at path and applies the schema.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests, closed when t ends.
// A single connection is used: every ":memory:" connection is a separate
// database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// IsBusy reports whether err is an sqlite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

const maxBusyRetries = 3

// runTx runs fn in a transaction, retrying on SQLITE_BUSY with 100/200 ms
// waits.
func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for i := range maxBusyRetries {
		if err = runOnce(ctx, db, fn); err == nil || !IsBusy(err) {
			return err
		}
		if i == maxBusyRetries-1 {
			break
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("store: retry cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return err
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
