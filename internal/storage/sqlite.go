package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteKV stores keys in a single table of an embedded SQLite database
// running in WAL mode, so the daemon and one-shot CLI invocations can share
// the file.
type SQLiteKV struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens (and if needed creates) the database at path.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
func OpenSQLite(path string) (*SQLiteKV, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	kv := &SQLiteKV{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := kv.InitSchemaContext(context.Background()); err != nil {
		_ = kv.Close()
		return nil, err
	}

	return kv, nil
}

// InitSchemaContext creates the kv table. Safe to call repeatedly.
func (kv *SQLiteKV) InitSchemaContext(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := kv.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (kv *SQLiteKV) Path() string {
	return kv.path
}

func (kv *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := kv.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &PersistenceError{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

func (kv *SQLiteKV) Set(ctx context.Context, key, value string) error {
	_, err := kv.conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &PersistenceError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (kv *SQLiteKV) Remove(ctx context.Context, key string) error {
	if _, err := kv.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return &PersistenceError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (kv *SQLiteKV) Close() error {
	if kv.conn == nil {
		return nil
	}

	if _, err := kv.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := kv.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	kv.conn = nil
	return nil
}
