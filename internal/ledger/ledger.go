package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/aibridge/internal/invoke"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000

	// timeLayout is fixed width so stored timestamps sort chronologically as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Ledger stores one row per invocation. It implements invoke.Recorder.
type Ledger struct {
	db *sql.DB
}

// New creates a Ledger over a bootstrapped database (see storage.OpenSQLite).
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

var _ invoke.Recorder = (*Ledger)(nil)

// Record inserts a completed invocation.
func (l *Ledger) Record(ctx context.Context, rec invoke.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("invocation id is empty")
	}

	var errText, stderr any
	if rec.Error != "" {
		errText = rec.Error
	}
	if rec.Stderr != "" {
		stderr = rec.Stderr
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO invocations(
  id, label, mode, script_digest, status, exit_code, duration_ms, error, stderr, started_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.Label, string(rec.Mode), rec.ScriptDigest, string(rec.Status), rec.ExitCode,
		rec.Duration().Milliseconds(), errText, stderr,
		rec.StartedAt.UTC().Format(timeLayout), rec.CompletedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// Get returns a single invocation by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, label, mode, script_digest, status, exit_code, duration_ms, error, stderr, started_at, completed_at
FROM invocations
WHERE id = ?;
`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return e, nil
}

// List returns the most recent invocations first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]*Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Label != "" {
		where = append(where, "label = ?")
		args = append(args, f.Label)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := `
SELECT id, label, mode, script_digest, status, exit_code, duration_ms, error, stderr, started_at, completed_at
FROM invocations`
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += "\nORDER BY started_at DESC, rowid DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	return out, nil
}

// Prune deletes invocations that completed before cutoff and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM invocations WHERE completed_at < ?;`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e            Entry
		mode, status string
		errText      sql.NullString
		stderr       sql.NullString
		startedAtS   string
		completedAtS string
	)
	if err := s.Scan(&e.ID, &e.Label, &mode, &e.ScriptDigest, &status, &e.ExitCode, &e.DurationMS,
		&errText, &stderr, &startedAtS, &completedAtS); err != nil {
		return nil, err
	}

	e.Mode = invoke.Mode(mode)
	e.Status = invoke.Status(status)
	e.Error = errText.String
	e.Stderr = stderr.String
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		e.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, completedAtS); err == nil {
		e.CompletedAt = t
	}
	return &e, nil
}
