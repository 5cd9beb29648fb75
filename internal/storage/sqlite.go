package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TimeFormat is the fixed-width UTC layout used for every timestamp column,
// so that text ordering matches time ordering.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := CheckLocalFilesystem(path); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps :memory: databases on a single connection.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
  id           TEXT PRIMARY KEY,
  request_id   TEXT,
  receiver     TEXT NOT NULL,
  receiver_id  TEXT NOT NULL DEFAULT '',
  method       TEXT NOT NULL,
  events       JSON NOT NULL DEFAULT '[]',
  outcome      TEXT NOT NULL,
  stage        TEXT NOT NULL,
  status       INTEGER NOT NULL,
  reason       TEXT,
  body_digest  TEXT NOT NULL,
  body_size    INTEGER NOT NULL,
  remote_addr  TEXT,
  received_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
  id            TEXT PRIMARY KEY,
  target        TEXT NOT NULL,
  receipt_id    TEXT,
  payload       JSON NOT NULL,
  status        TEXT NOT NULL,
  attempt       INTEGER NOT NULL DEFAULT 0,
  max_attempts  INTEGER NOT NULL DEFAULT 4,
  created_at    TEXT NOT NULL,
  updated_at    TEXT NOT NULL,
  next_at       TEXT NOT NULL,
  last_status   INTEGER,
  last_error    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS delivery_log (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  delivery_id  TEXT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
  attempt      INTEGER NOT NULL,
  status       TEXT NOT NULL,
  http_status  INTEGER,
  error        TEXT,
  logged_at    TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS receipts_received_at_idx ON receipts(received_at);`,
		`CREATE INDEX IF NOT EXISTS receipts_receiver_idx ON receipts(receiver, received_at);`,
		`CREATE INDEX IF NOT EXISTS deliveries_status_next_at_idx ON deliveries(status, next_at);`,
		`CREATE INDEX IF NOT EXISTS delivery_log_delivery_idx ON delivery_log(delivery_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
