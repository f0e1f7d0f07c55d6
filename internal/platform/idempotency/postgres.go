package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists keys in the idempotency_keys table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Claim takes the key with a single upsert that only overwrites expired rows, then reads back
// the winning row to decide the outcome.
func (s *PostgresStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	id, now := storageKey(key), now.UTC()
	record := pendingRecord(key, fingerprint, now, ttl)

	const claim = `INSERT INTO idempotency_keys (key, fingerprint, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint, status = EXCLUDED.status, response_status = 0,
			response_headers = NULL, response_body = NULL,
			created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= $4`
	res, err := s.db.ExecContext(ctx, claim, id, fingerprint, string(StatusPending), now, record.ExpiresAt)
	if err != nil {
		return Claim{}, fmt.Errorf("idempotency: claim: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return Claim{Outcome: Acquired, Record: record}, nil
	}

	existing, found, err := s.load(ctx, id)
	if err != nil {
		return Claim{}, err
	}
	if !found {
		// Released between the upsert and the read; the client retries.
		return Claim{Outcome: InFlight}, nil
	}
	existing.Key = key
	return classify(existing, fingerprint)
}

func (s *PostgresStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	headers, err := json.Marshal(replayableHeaders(resp.Headers))
	if err != nil {
		return fmt.Errorf("idempotency: encode headers: %w", err)
	}

	const query = `INSERT INTO idempotency_keys
			(key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			status = EXCLUDED.status, response_status = EXCLUDED.response_status,
			response_headers = EXCLUDED.response_headers, response_body = EXCLUDED.response_body,
			updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint`
	res, err := s.db.ExecContext(ctx, query, storageKey(key), fingerprint, string(StatusCompleted),
		resp.Status, headers, resp.Body, now, now.Add(ttlOrDefault(ttl)))
	if err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND fingerprint = $2`, storageKey(key), fingerprint)
	if err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *PostgresStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	const query = `DELETE FROM idempotency_keys WHERE key IN (
		SELECT key FROM idempotency_keys WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2)`
	res, err := s.db.ExecContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("idempotency: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency: purge: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) load(ctx context.Context, id string) (Record, bool, error) {
	var (
		record  Record
		status  string
		headers []byte
	)
	const query = `SELECT fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
		FROM idempotency_keys WHERE key = $1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&record.Fingerprint, &status, &record.ResponseStatus,
		&headers, &record.ResponseBody, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	record.Status = Status(status)
	if len(headers) > 0 && string(headers) != "null" {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, false, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	return record, true, nil
}
