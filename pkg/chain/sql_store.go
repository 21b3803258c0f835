package chain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore persists the chain in an append-only audit_events table via
// database/sql; it works against both Postgres and SQLite drivers.
//
// The insert is conditional on the trace's current tail hash, so two
// concurrent appends to one trace cannot both link to the same
// predecessor — the loser gets ErrStaleTail and retries with a fresh
// tail.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// schema is the development/SQLite DDL. Production Postgres owns its own
// migrations for this table.
const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_version TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	prev_hash TEXT,
	hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_trace ON audit_events(trace_id, id);
`

// Init creates the audit_events table if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Tail returns the latest hash for traceID, or "" for a fresh trace.
func (s *SQLStore) Tail(ctx context.Context, traceID string) (string, error) {
	const query = `SELECT hash FROM audit_events WHERE trace_id = $1 ORDER BY id DESC LIMIT 1`
	var hash string
	err := s.db.QueryRowContext(ctx, query, traceID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// Insert appends ev only if the trace's tail hash still equals
// expectedPrev. The guard is evaluated inside the INSERT statement itself,
// so the check-then-insert is one atomic operation.
func (s *SQLStore) Insert(ctx context.Context, ev AuditEvent, expectedPrev string) (int64, error) {
	const query = `
		INSERT INTO audit_events (trace_id, event_type, event_version, payload_json, prev_hash, hash, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE COALESCE((SELECT hash FROM audit_events WHERE trace_id = $1 ORDER BY id DESC LIMIT 1), '') = $8
	`
	res, err := s.db.ExecContext(ctx, query,
		ev.TraceID, ev.EventType, ev.EventVersion, string(ev.PayloadJSON),
		nullable(ev.PrevHash), ev.Hash, ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		expectedPrev,
	)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return 0, ErrStaleTail
	}
	id, err := res.LastInsertId()
	if err != nil {
		// Postgres does not support LastInsertId; the id is not needed
		// for chaining, only the hashes are.
		return 0, nil
	}
	return id, nil
}

// Events returns the trace's events ordered by id.
func (s *SQLStore) Events(ctx context.Context, traceID string) ([]AuditEvent, error) {
	const query = `
		SELECT id, trace_id, event_type, event_version, payload_json, prev_hash, hash, created_at
		FROM audit_events
		WHERE trace_id = $1
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []AuditEvent
	for rows.Next() {
		var (
			ev        AuditEvent
			payload   string
			prevHash  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.TraceID, &ev.EventType, &ev.EventVersion, &payload, &prevHash, &ev.Hash, &createdAt); err != nil {
			return nil, err
		}
		ev.PayloadJSON = []byte(payload)
		ev.PrevHash = prevHash.String
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
