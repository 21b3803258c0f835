package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore persists idempotency records via database/sql. The first-write
// race is closed by the primary key: the insert uses ON CONFLICT DO
// NOTHING, and a zero-row result means another delivery already recorded
// the key, at which point the stored row is read back and compared.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS idempotency_records (
	record_key TEXT PRIMARY KEY,
	display_key TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	result_json TEXT,
	created_at TEXT NOT NULL
);
`

// Init creates the idempotency_records table if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Record implements Store.
func (s *SQLStore) Record(ctx context.Context, key Key, payload interface{}, result interface{}) (Result, error) {
	if err := key.validate(); err != nil {
		return Result{}, err
	}
	hash, err := hashPayload(payload)
	if err != nil {
		return Result{}, err
	}
	resJSON, err := marshalResult(result)
	if err != nil {
		return Result{}, err
	}

	const insert = `
		INSERT INTO idempotency_records (record_key, display_key, payload_hash, result_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (record_key) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, insert,
		key.Canonical(), key.String(), hash, nullableJSON(resJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency: insert record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("idempotency: rows affected: %w", err)
	}
	if rows == 1 {
		return Result{Accepted: true, PayloadHash: hash}, nil
	}

	const query = `SELECT payload_hash, result_json FROM idempotency_records WHERE record_key = $1`
	var (
		storedHash string
		storedJSON sql.NullString
	)
	if err := s.db.QueryRowContext(ctx, query, key.Canonical()).Scan(&storedHash, &storedJSON); err != nil {
		return Result{}, fmt.Errorf("idempotency: read prior record: %w", err)
	}

	existing := record{payloadHash: storedHash}
	if storedJSON.Valid {
		existing.result = []byte(storedJSON.String)
	}
	return replayResult(existing, hash), nil
}

// Remove implements Store.
func (s *SQLStore) Remove(ctx context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	const del = `DELETE FROM idempotency_records WHERE record_key = $1`
	if _, err := s.db.ExecContext(ctx, del, key.Canonical()); err != nil {
		return fmt.Errorf("idempotency: remove record: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}
