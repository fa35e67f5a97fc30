package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/scribehook/internal/pipeline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reports (
    id                    TEXT    PRIMARY KEY,
    started_at            INTEGER NOT NULL,
    finished_at           INTEGER NOT NULL,
    empty                 INTEGER NOT NULL DEFAULT 0,
    audio_path            TEXT    NOT NULL DEFAULT '',
    transcript_path       TEXT    NOT NULL DEFAULT '',
    text                  TEXT    NOT NULL DEFAULT '',
    transcript_kind       TEXT    NOT NULL,
    transcript_text       TEXT    NOT NULL DEFAULT '',
    transcript_confidence REAL    NOT NULL DEFAULT 0,
    transcript_message    TEXT    NOT NULL DEFAULT '',
    endpoint              TEXT    NOT NULL DEFAULT '',
    delivery_kind         TEXT    NOT NULL,
    delivery_status       INTEGER NOT NULL DEFAULT 0,
    delivery_body         TEXT    NOT NULL DEFAULT '',
    delivery_message      TEXT    NOT NULL DEFAULT '',
    sample_rate           INTEGER NOT NULL DEFAULT 0,
    channels              INTEGER NOT NULL DEFAULT 0,
    samples               INTEGER NOT NULL DEFAULT 0,
    audio_duration_ns     INTEGER NOT NULL DEFAULT 0,
    overflows             INTEGER NOT NULL DEFAULT 0,
    errors                TEXT    NOT NULL DEFAULT '[]',
    fatal                 TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_reports_started ON reports(started_at);
`

// SQLite is a journal stored in a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn. A plain path is
// opened in WAL mode; a "file:" URI is used as given.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, fmt.Errorf("journal: sqlite: empty dsn")
	}
	if !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("journal: sqlite: create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsn)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: sqlite: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Append implements [Journal].
func (s *SQLite) Append(ctx context.Context, r pipeline.Report) error {
	vals, err := rowValues(r)
	if err != nil {
		return err
	}
	q := "INSERT OR REPLACE INTO reports (" + columnList + ") VALUES (" + placeholders(false) + ")"
	if _, err := s.db.ExecContext(ctx, q, vals...); err != nil {
		return fmt.Errorf("journal: sqlite: append: %w", err)
	}
	return nil
}

// Recent implements [Journal].
func (s *SQLite) Recent(ctx context.Context, limit int) ([]pipeline.Report, error) {
	q := "SELECT " + columnList + " FROM reports ORDER BY started_at DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: sqlite: recent: %w", err)
	}
	defer rows.Close()

	out := []pipeline.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: sqlite: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: sqlite: recent: %w", err)
	}
	return out, nil
}

// Ping implements [Journal].
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements [Journal].
func (s *SQLite) Close() error { return s.db.Close() }

var _ Journal = (*SQLite)(nil)
