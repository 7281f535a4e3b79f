// Package journal keeps a durable record of every terminal call result in
// SQLite so past bridge activity can be inspected with `velox calls list`.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Entry is one finished call.
type Entry struct {
	Seq         int64
	CallID      string
	Capability  string
	Operation   string
	Window      *string
	Status      Status
	ErrorKind   *string
	Error       *string
	CreatedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	Limit      int
	Capability string
	Status     Status
}

// Journal appends to and reads from the call_log table.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends a terminal call.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.CallID == "" {
		return fmt.Errorf("call id is empty")
	}
	switch e.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("invalid terminal status: %q", e.Status)
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO call_log(
  call_id, capability, operation, window_label, status, error_kind, error, created_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.CallID,
		e.Capability,
		e.Operation,
		nullString(e.Window),
		string(e.Status),
		nullString(e.ErrorKind),
		nullString(e.Error),
		e.CreatedAt.UTC().Format(timeLayout),
		e.CompletedAt.UTC().Format(timeLayout),
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert call_log: %w", err)
	}
	return nil
}

// List returns the newest entries first.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	var (
		where []string
		args  []any
	)
	if opts.Capability != "" {
		where = append(where, "capability = ?")
		args = append(args, opts.Capability)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	query := `
SELECT seq, call_id, capability, operation, window_label, status, error_kind, error, created_at, completed_at, duration_ms
FROM call_log`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY seq DESC\nLIMIT ?;"
	args = append(args, opts.Limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query call_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                      Entry
			status                 string
			window, kind, msg      sql.NullString
			createdAt, completedAt string
			durationMs             int64
		)
		if err := rows.Scan(&e.Seq, &e.CallID, &e.Capability, &e.Operation, &window, &status, &kind, &msg, &createdAt, &completedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan call_log: %w", err)
		}
		e.Status = Status(status)
		e.Window = fromNull(window)
		e.ErrorKind = fromNull(kind)
		e.Error = fromNull(msg)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if e.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call_log: %w", err)
	}
	return out, nil
}

// Prune deletes entries completed before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM call_log WHERE completed_at < ?;`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune call_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune call_log: %w", err)
	}
	return n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
