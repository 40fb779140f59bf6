package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/vgrid/resource"
)

// Ledger records the content hashes uploaded to the render service.
// It implements render.Ledger.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger returns a ledger over a database opened with Open.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Uploaded reports whether hash was recorded.
func (l *Ledger) Uploaded(ctx context.Context, hash string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM uploads WHERE hash = ?`, hash).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("store: uploaded %s: %w", hash, err)
	}
	return true, nil
}

// RecordUpload records hash as uploaded.
func (l *Ledger) RecordUpload(ctx context.Context, hash, contentType string, size int) error {
	return runTx(ctx, l.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO uploads (hash, content_type, size, uploaded_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(hash) DO UPDATE SET uploaded_at = excluded.uploaded_at`,
			hash, contentType, size, l.now().UnixMilli())
		if err != nil {
			return fmt.Errorf("store: record upload %s: %w", hash, err)
		}
		return nil
	})
}

// Prune forgets uploads older than age, so content the service may have
// evicted is sent again. It returns the number of rows removed.
func (l *Ledger) Prune(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := l.now().Add(-age).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM uploads WHERE uploaded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}

// SaveCache writes every entry of c, replacing what was saved before.
func SaveCache(ctx context.Context, db *sql.DB, c *resource.Cache) error {
	entries := c.Entries()
	now := time.Now().UnixMilli()
	return runTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM resources`); err != nil {
			return fmt.Errorf("store: clear resources: %w", err)
		}
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO resources (url, content_type, hash, content, updated_at) VALUES (?, ?, ?, ?, ?)`,
				e.URL, e.ContentType, e.Hash, e.Content, now); err != nil {
				return fmt.Errorf("store: save %s: %w", resource.RedactURL(e.URL), err)
			}
			for _, d := range e.Dependencies {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO dependencies (url, dep) VALUES (?, ?)`, e.URL, d); err != nil {
					return fmt.Errorf("store: save dependency: %w", err)
				}
			}
		}
		return nil
	})
}

// LoadCache fills c with the saved entries and returns how many there were.
func LoadCache(ctx context.Context, db *sql.DB, c *resource.Cache) (int, error) {
	rows, err := db.QueryContext(ctx, `SELECT url, content_type, hash, content FROM resources`)
	if err != nil {
		return 0, fmt.Errorf("store: load resources: %w", err)
	}
	n := 0
	for rows.Next() {
		var e resource.Entry
		if err := rows.Scan(&e.URL, &e.ContentType, &e.Hash, &e.Content); err != nil {
			rows.Close()
			return n, fmt.Errorf("store: scan resource: %w", err)
		}
		c.Set(e.URL, e)
		n++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("store: load resources: %w", err)
	}

	deps := make(map[string][]string)
	rows, err = db.QueryContext(ctx, `SELECT url, dep FROM dependencies ORDER BY url, dep`)
	if err != nil {
		return n, fmt.Errorf("store: load dependencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u, d string
		if err := rows.Scan(&u, &d); err != nil {
			return n, fmt.Errorf("store: scan dependency: %w", err)
		}
		deps[u] = append(deps[u], d)
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	for u, ds := range deps {
		c.SetDependencies(u, ds)
	}
	return n, nil
}
