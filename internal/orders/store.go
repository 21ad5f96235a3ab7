package orders

import (
	"context"
	"errors"
	"time"

	"github.com/prasetya/stockguard/internal/tx"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrStatusConflict means the order's current status no longer matched
	// the expected one; the transition was not applied.
	ErrStatusConflict = errors.New("order status conflict")
)

type Store interface {
	// CreateDraft persists the order and its items. Status must be DRAFT.
	CreateDraft(ctx context.Context, h tx.Handle, o *Order) error

	Get(ctx context.Context, id string) (*Order, error)

	// Transition moves id from one status to another as a single conditional
	// update. Returns ErrStatusConflict when the precondition no longer
	// holds, which is what serializes duplicate webhook deliveries touching
	// the same order.
	Transition(ctx context.Context, h tx.Handle, id string, from, to Status) error

	// ListStaleDrafts returns drafts created before the cutoff, oldest first.
	ListStaleDrafts(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}
