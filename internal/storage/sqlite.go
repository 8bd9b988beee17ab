// Package storage keeps a local history of scans in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite driver

	"github.com/Auditware/radar/internal/model"
)

// DB is scan history backed by SQLite.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if missing) the history database at path and
// ensures the schema exists.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	c, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db := &DB{conn: c}
	if err := db.createSchema(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error { return db.conn.Close() }

func (db *DB) createSchema() error {
	_, err := db.conn.Exec(`
CREATE TABLE IF NOT EXISTS scans (
  id          TEXT PRIMARY KEY,
  started_at  TEXT NOT NULL,   -- RFC3339Nano
  root        TEXT,
  status      TEXT NOT NULL,
  files       INTEGER NOT NULL,
  findings    INTEGER NOT NULL,
  errors      INTEGER NOT NULL,
  elapsed_ms  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
  scan_id      TEXT NOT NULL,
  rule_id      TEXT NOT NULL,
  category     TEXT,
  severity     TEXT NOT NULL,
  confidence   REAL,
  file         TEXT NOT NULL,
  start_offset INTEGER NOT NULL,
  end_offset   INTEGER NOT NULL,
  start_line   INTEGER,
  handler      TEXT,
  fingerprint  TEXT,
  message      TEXT,
  FOREIGN KEY(scan_id) REFERENCES scans(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_findings_scan ON findings(scan_id);
CREATE INDEX IF NOT EXISTS idx_findings_fingerprint ON findings(fingerprint);
`)
	return err
}

// SaveScan records res and its findings. Saving the same scan id again
// replaces the earlier record.
func (db *DB) SaveScan(ctx context.Context, root string, res *model.ScanResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scans (id, started_at, root, status, files, findings, errors, elapsed_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET started_at=excluded.started_at, root=excluded.root, status=excluded.status,
           files=excluded.files, findings=excluded.findings, errors=excluded.errors, elapsed_ms=excluded.elapsed_ms`,
		res.ID, res.Started.UTC().Format(time.RFC3339Nano), root, string(res.Status),
		res.Files, len(res.Findings), len(res.Errors), res.Elapsed.Milliseconds(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE scan_id = ?`, res.ID); err != nil {
		return err
	}
	if len(res.Findings) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO findings
			(scan_id, rule_id, category, severity, confidence, file, start_offset, end_offset, start_line, handler, fingerprint, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range res.Findings {
			if _, err := stmt.ExecContext(ctx,
				res.ID, f.RuleID, f.Category, string(f.Severity), f.Confidence, f.File,
				f.Span.Start, f.Span.End, f.StartLine, f.Handler, f.Fingerprint, f.Message,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
