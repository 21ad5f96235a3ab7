package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/prasetya/stockguard/internal/tx"
)

var (
	ErrNotFound = errors.New("reservation not found")

	// ErrStatusConflict means the reservation was no longer in the expected
	// status; whoever won the transition owns the follow-up stock work.
	ErrStatusConflict = errors.New("reservation status conflict")
)

type Store interface {
	Create(ctx context.Context, h tx.Handle, r *Reservation) error
	Get(ctx context.Context, id string) (*Reservation, error)

	// ActiveBySession returns the session's single active reservation, or
	// ErrNotFound.
	ActiveBySession(ctx context.Context, sessionID string) (*Reservation, error)

	// Transition moves id from one status to another as a conditional
	// update; ErrStatusConflict when the precondition no longer holds.
	Transition(ctx context.Context, h tx.Handle, id string, from, to Status) error

	// ListExpired returns active reservations whose expiry has passed.
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]Reservation, error)

	// ActiveReservedQty recomputes the true held quantity for one variant by
	// aggregating all active reservations that touch it.
	ActiveReservedQty(ctx context.Context, productID, size string) (int, error)

	// SaveSession upserts. On conflict the stored created_at is kept, and an
	// empty incoming GatewayTxID does not clear a stored one.
	SaveSession(ctx context.Context, h tx.Handle, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
}
