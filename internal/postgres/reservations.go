package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/tx"
)

type ReservationStore struct{ DB *pgxpool.Pool }

var _ reservation.Store = (*ReservationStore)(nil)

func (s *ReservationStore) Create(ctx context.Context, h tx.Handle, r *reservation.Reservation) error {
	db := on(s.DB, h)
	_, err := db.Exec(ctx, `
		INSERT INTO reservations (id, session_id, user_ref, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.SessionID, r.UserRef, r.Status, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return err
	}
	for _, l := range r.Lines {
		if _, err := db.Exec(ctx, `
			INSERT INTO reservation_items (reservation_id, product_id, size, qty)
			VALUES ($1, $2, $3, $4)`,
			r.ID, l.ProductID, l.Size, l.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (s *ReservationStore) Get(ctx context.Context, id string) (*reservation.Reservation, error) {
	var r reservation.Reservation
	err := s.DB.QueryRow(ctx, `
		SELECT id, session_id, user_ref, status, created_at, expires_at
		FROM reservations WHERE id = $1`, id).
		Scan(&r.ID, &r.SessionID, &r.UserRef, &r.Status, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reservation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT product_id, size, qty FROM reservation_items WHERE reservation_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l reservation.Line
		if err := rows.Scan(&l.ProductID, &l.Size, &l.Qty); err != nil {
			return nil, err
		}
		r.Lines = append(r.Lines, l)
	}
	return &r, rows.Err()
}

func (s *ReservationStore) ActiveBySession(ctx context.Context, sessionID string) (*reservation.Reservation, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
		SELECT id FROM reservations WHERE session_id = $1 AND status = 'active' LIMIT 1`,
		sessionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reservation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *ReservationStore) Transition(ctx context.Context, h tx.Handle, id string, from, to reservation.Status) error {
	ct, err := on(s.DB, h).Exec(ctx, `
		UPDATE reservations SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var current string
		err := on(s.DB, h).QueryRow(ctx, `SELECT status FROM reservations WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return reservation.ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("reservation %s is %s: %w", id, current, reservation.ErrStatusConflict)
	}
	return nil
}

func (s *ReservationStore) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]reservation.Reservation, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM reservations
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]reservation.Reservation, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *ReservationStore) ActiveReservedQty(ctx context.Context, productID, size string) (int, error) {
	var total int
	err := s.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(ri.qty), 0)
		FROM reservation_items ri
		JOIN reservations r ON r.id = ri.reservation_id
		WHERE r.status = 'active' AND ri.product_id = $1 AND ri.size = $2`,
		productID, size).Scan(&total)
	return total, err
}

func (s *ReservationStore) SaveSession(ctx context.Context, h tx.Handle, sess *reservation.Session) error {
	_, err := on(s.DB, h).Exec(ctx, `
		INSERT INTO checkout_sessions (id, status, stock_reserved, gateway_tx_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			stock_reserved = EXCLUDED.stock_reserved,
			gateway_tx_id = CASE WHEN EXCLUDED.gateway_tx_id = ''
				THEN checkout_sessions.gateway_tx_id ELSE EXCLUDED.gateway_tx_id END,
			updated_at = now()`,
		sess.ID, sess.Status, sess.StockReserved, sess.GatewayTxID, sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *ReservationStore) GetSession(ctx context.Context, id string) (*reservation.Session, error) {
	var sess reservation.Session
	err := s.DB.QueryRow(ctx, `
		SELECT id, status, stock_reserved, gateway_tx_id, created_at, updated_at
		FROM checkout_sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.Status, &sess.StockReserved, &sess.GatewayTxID, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reservation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
