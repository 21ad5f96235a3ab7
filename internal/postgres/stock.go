package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetya/stockguard/internal/stock"
	"github.com/prasetya/stockguard/internal/tx"
)

// StockStore implements stock.Store. Every mutation is one UPDATE whose
// WHERE clause carries the precondition: the row-level atomicity of the
// database serializes conflicting writers, so there is no locking layer and
// no read-then-write anywhere in here.
type StockStore struct{ DB *pgxpool.Pool }

var _ stock.Store = (*StockStore)(nil)

func (s *StockStore) Reserve(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid qty %d for %s/%s", qty, productID, size)
	}
	ct, err := on(s.DB, h).Exec(ctx, `
		UPDATE stock_levels
		SET reserved = reserved + $3, updated_at = now()
		WHERE product_id = $1 AND size = $2 AND stock - reserved >= $3`,
		productID, size, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.insufficient(ctx, h, productID, size, qty, func(v stock.VariantStock) int { return v.Available() })
	}
	return nil
}

func (s *StockStore) Confirm(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid qty %d for %s/%s", qty, productID, size)
	}
	ct, err := on(s.DB, h).Exec(ctx, `
		UPDATE stock_levels
		SET stock = stock - $3, reserved = reserved - $3, updated_at = now()
		WHERE product_id = $1 AND size = $2 AND stock >= $3 AND reserved >= $3`,
		productID, size, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.insufficient(ctx, h, productID, size, qty, func(v stock.VariantStock) int { return min(v.Stock, v.Reserved) })
	}
	return nil
}

func (s *StockStore) Release(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid qty %d for %s/%s", qty, productID, size)
	}
	ct, err := on(s.DB, h).Exec(ctx, `
		UPDATE stock_levels
		SET reserved = reserved - $3, updated_at = now()
		WHERE product_id = $1 AND size = $2 AND reserved >= $3`,
		productID, size, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.insufficient(ctx, h, productID, size, qty, func(v stock.VariantStock) int { return v.Reserved })
	}
	return nil
}

func (s *StockStore) Deduct(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid qty %d for %s/%s", qty, productID, size)
	}
	ct, err := on(s.DB, h).Exec(ctx, `
		UPDATE stock_levels
		SET stock = stock - $3, updated_at = now()
		WHERE product_id = $1 AND size = $2 AND stock - reserved >= $3`,
		productID, size, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.insufficient(ctx, h, productID, size, qty, func(v stock.VariantStock) int { return v.Available() })
	}
	return nil
}

func (s *StockStore) Restore(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid qty %d for %s/%s", qty, productID, size)
	}
	ct, err := on(s.DB, h).Exec(ctx, `
		UPDATE stock_levels
		SET stock = stock + $3, updated_at = now()
		WHERE product_id = $1 AND size = $2`,
		productID, size, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", productID, size, stock.ErrVariantNotFound)
	}
	return nil
}

func (s *StockStore) Get(ctx context.Context, productID, size string) (stock.VariantStock, error) {
	return s.get(ctx, nil, productID, size)
}

func (s *StockStore) SetReserved(ctx context.Context, h tx.Handle, productID, size string, expected, reserved int) error {
	ct, err := on(s.DB, h).Exec(ctx, `
		UPDATE stock_levels SET reserved = $4, updated_at = now()
		WHERE product_id = $1 AND size = $2 AND reserved = $3`,
		productID, size, expected, reserved)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		if _, gerr := s.get(ctx, h, productID, size); gerr != nil {
			return gerr
		}
		return fmt.Errorf("%s/%s: %w", productID, size, stock.ErrCounterConflict)
	}
	return nil
}

func (s *StockStore) Summary(ctx context.Context, lowThreshold int) (stock.Summary, error) {
	var sum stock.Summary
	err := s.DB.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE stock - reserved <= 0),
		       count(*) FILTER (WHERE stock - reserved > 0 AND stock - reserved <= $1)
		FROM stock_levels`, lowThreshold).
		Scan(&sum.Variants, &sum.OutOfStock, &sum.LowStock)
	return sum, err
}

func (s *StockStore) get(ctx context.Context, h tx.Handle, productID, size string) (stock.VariantStock, error) {
	var v stock.VariantStock
	err := on(s.DB, h).QueryRow(ctx, `
		SELECT product_id, size, stock, reserved, updated_at
		FROM stock_levels WHERE product_id = $1 AND size = $2`,
		productID, size).
		Scan(&v.ProductID, &v.Size, &v.Stock, &v.Reserved, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, fmt.Errorf("%s/%s: %w", productID, size, stock.ErrVariantNotFound)
	}
	return v, err
}

// insufficient builds the caller-facing error from a fresh read. The read
// happens after the conditional update already failed; it informs the error
// message only.
func (s *StockStore) insufficient(ctx context.Context, h tx.Handle, productID, size string, qty int, avail func(stock.VariantStock) int) error {
	v, err := s.get(ctx, h, productID, size)
	if err != nil {
		return err
	}
	return &stock.InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: avail(v)}
}
