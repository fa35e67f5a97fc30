// Package journal keeps a history of finished pipeline reports.
//
// Three backends are available: an in-memory ring (the default), SQLite via
// the pure-Go modernc.org/sqlite driver and PostgreSQL via pgx. The SQL
// backends share one table layout:
//
//	reports(id PK, started_at, finished_at, empty, audio_path, …, errors JSON)
//
// Times are stored as Unix nanoseconds so the same scan code serves both
// databases.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/scribehook/internal/pipeline"
)

// Journal stores and lists reports. Implementations are safe for concurrent
// use.
type Journal interface {
	// Append stores r. Appending an ID that already exists replaces it.
	Append(ctx context.Context, r pipeline.Report) error
	// Recent returns up to limit reports, newest first.
	Recent(ctx context.Context, limit int) ([]pipeline.Report, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted by [Open].
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Driver string
	// DSN is a file path or "file:" URI for sqlite, a connection string for
	// postgres. Ignored for memory.
	DSN string
	// Capacity bounds the memory ring. Default: 100.
	Capacity int
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Journal, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemory(cfg.Capacity), nil
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", cfg.Driver)
	}
}

// ---- shared SQL row layout ----

const columnList = `id, started_at, finished_at, empty, audio_path, transcript_path, text,
	transcript_kind, transcript_text, transcript_confidence, transcript_message,
	endpoint, delivery_kind, delivery_status, delivery_body, delivery_message,
	sample_rate, channels, samples, audio_duration_ns, overflows, errors, fatal`

const columnCount = 23

// rowValues returns r flattened in columnList order.
func rowValues(r pipeline.Report) ([]any, error) {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("journal: encode errors: %w", err)
	}
	return []any{
		r.ID, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), r.Empty,
		r.AudioPath, r.TranscriptPath, r.Text,
		r.Transcript.Kind.String(), r.Transcript.Text, r.Transcript.Confidence, r.Transcript.Message,
		r.Endpoint, r.Delivery.Kind.String(), r.Delivery.StatusCode, r.Delivery.Body, r.Delivery.Message,
		r.SampleRate, r.Channels, r.Samples, int64(r.AudioDuration), r.Overflows,
		string(errJSON), r.Fatal,
	}, nil
}

// scanner is satisfied by *sql.Rows and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanReport(s scanner) (pipeline.Report, error) {
	var (
		r                     pipeline.Report
		started, finished     int64
		durationNS            int64
		tKind, dKind, errJSON string
	)
	if err := s.Scan(
		&r.ID, &started, &finished, &r.Empty,
		&r.AudioPath, &r.TranscriptPath, &r.Text,
		&tKind, &r.Transcript.Text, &r.Transcript.Confidence, &r.Transcript.Message,
		&r.Endpoint, &dKind, &r.Delivery.StatusCode, &r.Delivery.Body, &r.Delivery.Message,
		&r.SampleRate, &r.Channels, &r.Samples, &durationNS, &r.Overflows,
		&errJSON, &r.Fatal,
	); err != nil {
		return pipeline.Report{}, err
	}
	r.StartedAt = time.Unix(0, started)
	r.FinishedAt = time.Unix(0, finished)
	r.AudioDuration = time.Duration(durationNS)
	if err := r.Transcript.Kind.UnmarshalText([]byte(tKind)); err != nil {
		return pipeline.Report{}, err
	}
	if err := r.Delivery.Kind.UnmarshalText([]byte(dKind)); err != nil {
		return pipeline.Report{}, err
	}
	if err := json.Unmarshal([]byte(errJSON), &r.Errors); err != nil {
		return pipeline.Report{}, fmt.Errorf("journal: decode errors: %w", err)
	}
	if len(r.Errors) == 0 {
		r.Errors = nil
	}
	return r, nil
}

// placeholders returns "$1, $2, …" (postgres) or "?, ?, …" (sqlite).
func placeholders(numbered bool) string {
	parts := make([]string, columnCount)
	for i := range parts {
		if numbered {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
