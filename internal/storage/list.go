package storage

import (
	"context"
	"time"

	"github.com/Auditware/radar/internal/model"
)

// ScanRow is one line of `radar history`.
type ScanRow struct {
	ID        string
	StartedAt time.Time
	Root      string
	Status    model.ScanStatus
	Files     int
	Findings  int
	Errors    int
	Elapsed   time.Duration
}

// ListScans returns the most recent scans first.
func (db *DB) ListScans(ctx context.Context, limit int) ([]ScanRow, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT id, started_at, COALESCE(root, ''), status, files, findings, errors, elapsed_ms
		  FROM scans
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`
	rows, err := db.conn.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanRow
	for rows.Next() {
		var (
			r         ScanRow
			started   string
			status    string
			elapsedMs int64
		)
		if err := rows.Scan(&r.ID, &started, &r.Root, &status, &r.Files, &r.Findings, &r.Errors, &elapsedMs); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.Status = model.ScanStatus(status)
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListFindings returns the findings recorded for a scan, most severe first.
func (db *DB) ListFindings(ctx context.Context, scanID string) ([]model.Finding, error) {
	const q = `
		SELECT rule_id, COALESCE(category, ''), severity, COALESCE(confidence, 0), file,
		       start_offset, end_offset, COALESCE(start_line, 0), COALESCE(handler, ''),
		       COALESCE(fingerprint, ''), COALESCE(message, '')
		  FROM findings
		 WHERE scan_id = ?
		 ORDER BY
		       (CASE severity WHEN 'critical' THEN 5 WHEN 'high' THEN 4 WHEN 'medium' THEN 3 WHEN 'low' THEN 2 ELSE 1 END) DESC,
		       file, start_offset, rule_id`
	rows, err := db.conn.QueryContext(ctx, q, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		var (
			f   model.Finding
			sev string
		)
		if err := rows.Scan(&f.RuleID, &f.Category, &sev, &f.Confidence, &f.File,
			&f.Span.Start, &f.Span.End, &f.StartLine, &f.Handler, &f.Fingerprint, &f.Message); err != nil {
			return nil, err
		}
		f.Severity = model.Severity(sev)
		out = append(out, f)
	}
	return out, rows.Err()
}
