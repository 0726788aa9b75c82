package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/addonlib/internal/sqldb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS addon_documents (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS addon_directories (
    path TEXT PRIMARY KEY
);
`

// SQLiteBackend stores documents in a SQLite key/value table.
// Directories are tracked only so Exists behaves like the file backend.
type SQLiteBackend struct {
	db *sqldb.DB
}

// NewSQLiteBackend prepares the schema on db and returns the backend.
func NewSQLiteBackend(ctx context.Context, db *sqldb.DB) (*SQLiteBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite backend: database is required")
	}
	if _, err := db.Exec(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("sqlite backend: ensure schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Read implements Backend.
func (b *SQLiteBackend) Read(ctx context.Context, key string) (string, bool, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", false, err
	}
	v, err := b.db.QueryValue(ctx, `SELECT value FROM addon_documents WHERE key = ?`, k)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	if v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("reading %s: unexpected column type %T", key, v)
	}
	return s, true, nil
}

// Write implements Backend.
func (b *SQLiteBackend) Write(ctx context.Context, key string, data string) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}
	if dir := parentDir(k); dir != "" {
		ok, err := b.dirExists(ctx, dir)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("writing %s: directory %s does not exist", key, dir)
		}
	}
	_, err = b.db.Exec(ctx, `
INSERT INTO addon_documents (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		k, data, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// CreateDir implements Backend.
func (b *SQLiteBackend) CreateDir(ctx context.Context, dir string) error {
	d, err := CleanKey(dir)
	if err != nil {
		return err
	}
	for p := d; p != ""; p = parentDir(p) {
		if _, err := b.db.Exec(ctx, `INSERT OR IGNORE INTO addon_directories (path) VALUES (?)`, p); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Exists implements Backend.
func (b *SQLiteBackend) Exists(ctx context.Context, p string) (bool, error) {
	k, err := CleanKey(p)
	if err != nil {
		return false, err
	}
	v, err := b.db.QueryValue(ctx, `SELECT 1 FROM addon_documents WHERE key = ?`, k)
	if err != nil {
		return false, err
	}
	if v != nil {
		return true, nil
	}
	return b.dirExists(ctx, k)
}

func (b *SQLiteBackend) dirExists(ctx context.Context, dir string) (bool, error) {
	v, err := b.db.QueryValue(ctx, `SELECT 1 FROM addon_directories WHERE path = ?`, dir)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func parentDir(key string) string {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return ""
	}
	return key[:i]
}

var _ Backend = (*SQLiteBackend)(nil)
