package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/tx"
)

type OrderStore struct{ DB *pgxpool.Pool }

var _ orders.Store = (*OrderStore)(nil)

func (s *OrderStore) CreateDraft(ctx context.Context, h tx.Handle, o *orders.Order) error {
	db := on(s.DB, h)
	_, err := db.Exec(ctx, `
		INSERT INTO orders (id, session_id, user_ref, total_cents, status, payment_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.SessionID, o.UserRef, o.TotalCents, o.Status, o.PaymentRef, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		if _, err := db.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, size, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.ProductID, it.Size, it.Qty, it.PriceCents); err != nil {
			return err
		}
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	var o orders.Order
	err := s.DB.QueryRow(ctx, `
		SELECT id, session_id, user_ref, total_cents, status, payment_ref, created_at, updated_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.SessionID, &o.UserRef, &o.TotalCents, &o.Status, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT product_id, size, qty, price_cents FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.Item
		if err := rows.Scan(&it.ProductID, &it.Size, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (s *OrderStore) Transition(ctx context.Context, h tx.Handle, id string, from, to orders.Status) error {
	if !orders.CanTransition(from, to) {
		return fmt.Errorf("order %s: %s -> %s: %w", id, from, to, orders.ErrStatusConflict)
	}
	ct, err := on(s.DB, h).Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var current string
		err := on(s.DB, h).QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("order %s is %s: %w", id, current, orders.ErrStatusConflict)
	}
	return nil
}

func (s *OrderStore) ListStaleDrafts(ctx context.Context, cutoff time.Time, limit int) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status = 'DRAFT' AND created_at <= $1
		ORDER BY created_at LIMIT $2`, cutoff, limit)
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

	out := make([]orders.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}
