package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scribehook/internal/pipeline"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS reports (
    id                    TEXT             PRIMARY KEY,
    started_at            BIGINT           NOT NULL,
    finished_at           BIGINT           NOT NULL,
    empty                 BOOLEAN          NOT NULL DEFAULT false,
    audio_path            TEXT             NOT NULL DEFAULT '',
    transcript_path       TEXT             NOT NULL DEFAULT '',
    text                  TEXT             NOT NULL DEFAULT '',
    transcript_kind       TEXT             NOT NULL,
    transcript_text       TEXT             NOT NULL DEFAULT '',
    transcript_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    transcript_message    TEXT             NOT NULL DEFAULT '',
    endpoint              TEXT             NOT NULL DEFAULT '',
    delivery_kind         TEXT             NOT NULL,
    delivery_status       INTEGER          NOT NULL DEFAULT 0,
    delivery_body         TEXT             NOT NULL DEFAULT '',
    delivery_message      TEXT             NOT NULL DEFAULT '',
    sample_rate           INTEGER          NOT NULL DEFAULT 0,
    channels              INTEGER          NOT NULL DEFAULT 0,
    samples               BIGINT           NOT NULL DEFAULT 0,
    audio_duration_ns     BIGINT           NOT NULL DEFAULT 0,
    overflows             INTEGER          NOT NULL DEFAULT 0,
    errors                TEXT             NOT NULL DEFAULT '[]',
    fatal                 TEXT             NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reports_started_at
    ON reports (started_at);
`

// Postgres is a journal backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the reports table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Append implements [Journal].
func (p *Postgres) Append(ctx context.Context, r pipeline.Report) error {
	vals, err := rowValues(r)
	if err != nil {
		return err
	}
	q := "INSERT INTO reports (" + columnList + ") VALUES (" + placeholders(true) + `)
		ON CONFLICT (id) DO UPDATE SET
		    finished_at = EXCLUDED.finished_at,
		    transcript_path = EXCLUDED.transcript_path,
		    delivery_kind = EXCLUDED.delivery_kind,
		    delivery_status = EXCLUDED.delivery_status,
		    delivery_body = EXCLUDED.delivery_body,
		    delivery_message = EXCLUDED.delivery_message,
		    errors = EXCLUDED.errors,
		    fatal = EXCLUDED.fatal`
	if _, err := p.pool.Exec(ctx, q, vals...); err != nil {
		return fmt.Errorf("journal: postgres: append: %w", err)
	}
	return nil
}

// Recent implements [Journal].
func (p *Postgres) Recent(ctx context.Context, limit int) ([]pipeline.Report, error) {
	q := "SELECT " + columnList + " FROM reports ORDER BY started_at DESC, id DESC LIMIT $1"
	rows, err := p.pool.Query(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: postgres: recent: %w", err)
	}
	reports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pipeline.Report, error) {
		return scanReport(row)
	})
	if err != nil {
		return nil, fmt.Errorf("journal: postgres: scan rows: %w", err)
	}
	if reports == nil {
		reports = []pipeline.Report{}
	}
	return reports, nil
}

// Ping implements [Journal].
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close implements [Journal].
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Journal = (*Postgres)(nil)
