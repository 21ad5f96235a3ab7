package stock

import (
	"context"

	"github.com/prasetya/stockguard/internal/tx"
)

// Store is the atomic-operation surface over the stock ledger. Every mutation
// is a single conditional update: the predicate is evaluated by the store at
// the instant the write applies, so concurrent callers need no in-process
// lock and exactly those whose predicate holds succeed. Application code must
// never read-modify-write these counters.
//
// h is an optional transaction handle; nil means autocommit.
type Store interface {
	// Reserve increments reserved by qty iff stock - reserved >= qty.
	Reserve(ctx context.Context, h tx.Handle, productID, size string, qty int) error

	// Confirm decrements stock and reserved by qty iff stock >= qty and
	// reserved >= qty. This is the only place stock is permanently consumed.
	Confirm(ctx context.Context, h tx.Handle, productID, size string, qty int) error

	// Release decrements reserved by qty iff reserved >= qty.
	Release(ctx context.Context, h tx.Handle, productID, size string, qty int) error

	// Deduct takes stock directly (pay-first flows, no hold) iff
	// stock - reserved >= qty.
	Deduct(ctx context.Context, h tx.Handle, productID, size string, qty int) error

	// Restore returns qty units of stock (refunds, deduct rollback).
	Restore(ctx context.Context, h tx.Handle, productID, size string, qty int) error

	Get(ctx context.Context, productID, size string) (VariantStock, error)

	// SetReserved rewrites the reserved counter iff it still holds expected;
	// otherwise it returns ErrCounterConflict and writes nothing. Only the
	// availability self-heal path may call it.
	SetReserved(ctx context.Context, h tx.Handle, productID, size string, expected, reserved int) error

	// Summary counts low/out-of-stock variants for the health report.
	Summary(ctx context.Context, lowThreshold int) (Summary, error)
}
