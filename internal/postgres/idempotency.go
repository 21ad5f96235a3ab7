package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetya/stockguard/internal/tx"
	"github.com/prasetya/stockguard/internal/webhook"
)

// KeyStore backs webhook idempotency with the webhook_keys table. Begin
// relies on the primary key for its exactly-once guarantee: the INSERT either
// lands or conflicts, and the conflict path decides between replay and
// takeover.
type KeyStore struct{ DB *pgxpool.Pool }

var _ webhook.KeyStore = (*KeyStore)(nil)

func (s *KeyStore) Begin(ctx context.Context, rec *webhook.KeyRecord) (*webhook.KeyRecord, bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO webhook_keys (key, status, raw_event, response_code, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO NOTHING`,
		rec.Key, rec.Status, rec.RawEvent, rec.ResponseCode, rec.ResponseBody, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 1 {
		return nil, true, nil
	}

	// Key exists. Take it over only when the previous attempt failed or the
	// record has aged out; a live processing/completed record stays put.
	ct, err = s.DB.Exec(ctx, `
		UPDATE webhook_keys
		SET status = $2, raw_event = $3, response_code = 0, response_body = NULL,
		    created_at = $4, expires_at = $5
		WHERE key = $1 AND (status = 'failed' OR expires_at <= $4)`,
		rec.Key, rec.Status, rec.RawEvent, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 1 {
		return nil, true, nil
	}

	existing, err := s.Lookup(ctx, rec.Key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// The record vanished between the conflict and the read (expired
		// takeover by someone else followed by cleanup). Retry the insert.
		return s.Begin(ctx, rec)
	}
	return existing, false, nil
}

func (s *KeyStore) Lookup(ctx context.Context, key string) (*webhook.KeyRecord, error) {
	var rec webhook.KeyRecord
	err := s.DB.QueryRow(ctx, `
		SELECT key, status, raw_event, response_code, response_body, created_at, expires_at
		FROM webhook_keys WHERE key = $1`, key).
		Scan(&rec.Key, &rec.Status, &rec.RawEvent, &rec.ResponseCode,
			&rec.ResponseBody, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *KeyStore) Complete(ctx context.Context, h tx.Handle, key string, code int, body []byte) error {
	_, err := on(s.DB, h).Exec(ctx, `
		UPDATE webhook_keys SET status = 'completed', response_code = $2, response_body = $3
		WHERE key = $1`, key, code, body)
	return err
}

func (s *KeyStore) Fail(ctx context.Context, key string, code int, body []byte) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE webhook_keys SET status = 'failed', response_code = $2, response_body = $3
		WHERE key = $1`, key, code, body)
	return err
}
