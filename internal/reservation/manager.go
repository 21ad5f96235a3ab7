package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prasetya/stockguard/internal/errs"
	"github.com/prasetya/stockguard/internal/events"
	"github.com/prasetya/stockguard/internal/stock"
	"github.com/prasetya/stockguard/internal/tx"
)

type Availability struct {
	Available    bool `json:"available"`
	AvailableQty int  `json:"available_qty"`
}

// Manager orchestrates holds: it creates the reservation record, drives the
// atomic stock operations through the transaction runner, and later confirms
// or releases the hold. It keeps no state of its own; all correctness comes
// from the store's conditional updates.
type Manager struct {
	stock stock.Store
	store Store
	txr   tx.Runner
	ttl   time.Duration
	pub   events.Publisher
	log   zerolog.Logger
	now   func() time.Time
}

func NewManager(st stock.Store, store Store, txr tx.Runner, ttl time.Duration, pub events.Publisher, log zerolog.Logger) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{
		stock: st,
		store: store,
		txr:   txr,
		ttl:   ttl,
		pub:   pub,
		log:   log.With().Str("component", "reservation").Logger(),
		now:   time.Now,
	}
}

// Reserve validates every line, then reserves all of them inside one
// transaction: if any line fails availability the whole batch rolls back and
// nothing stays held. A session carries at most one active reservation, so
// an existing hold is released first (this is the only way to get a fresh
// expiry).
func (m *Manager) Reserve(ctx context.Context, sessionID, userRef string, lines []Line) (*Reservation, error) {
	if sessionID == "" {
		return nil, errs.New(errs.KindValidation, "missing session id")
	}
	if len(lines) == 0 {
		return nil, errs.New(errs.KindValidation, "no items to reserve")
	}
	for _, l := range lines {
		if l.ProductID == "" || l.Size == "" {
			return nil, errs.New(errs.KindValidation, "item missing product or size")
		}
		if l.Qty <= 0 {
			return nil, errs.Newf(errs.KindValidation, "invalid qty %d for %s/%s", l.Qty, l.ProductID, l.Size)
		}
	}

	if prev, err := m.store.ActiveBySession(ctx, sessionID); err == nil {
		if rerr := m.release(ctx, prev, StatusCancelled, "re-reservation"); rerr != nil {
			return nil, fmt.Errorf("release previous hold: %w", rerr)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := m.now().UTC()
	res := &Reservation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserRef:   userRef,
		Lines:     lines,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	err := m.txr.WithTransaction(ctx, tx.Options{}, func(ctx context.Context, h tx.Handle) error {
		for _, l := range res.Lines {
			if err := m.stock.Reserve(ctx, h, l.ProductID, l.Size, l.Qty); err != nil {
				return err
			}
		}
		if err := m.store.Create(ctx, h, res); err != nil {
			return err
		}
		return m.store.SaveSession(ctx, h, &Session{
			ID:            sessionID,
			Status:        SessionPending,
			StockReserved: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	})
	if err != nil {
		if errors.Is(err, stock.ErrInsufficientStock) {
			return nil, errs.Wrap(errs.KindStock, "reserve", err)
		}
		return nil, err
	}

	m.pub.Emit(events.EventStockReserved, sessionID, events.StockReservedPayload{
		ReservationID: res.ID,
		SessionID:     sessionID,
		ExpiresAt:     res.ExpiresAt,
		Lines:         toEventLines(res.Lines),
	})
	m.log.Info().Str("reservation_id", res.ID).Str("session_id", sessionID).
		Time("expires_at", res.ExpiresAt).Msg("stock reserved")
	return res, nil
}

// Confirm converts the hold into a permanent deduction. The status
// transition and every line's confirm share one transaction, so a line
// failing its predicate reverts the whole thing.
func (m *Manager) Confirm(ctx context.Context, reservationID string) error {
	r, err := m.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status == StatusConfirmed {
		return nil
	}
	if r.Status.Terminal() {
		return fmt.Errorf("confirm %s: %w (status %s)", reservationID, ErrStatusConflict, r.Status)
	}

	err = m.txr.WithTransaction(ctx, tx.Options{}, func(ctx context.Context, h tx.Handle) error {
		if err := m.store.Transition(ctx, h, r.ID, StatusActive, StatusConfirmed); err != nil {
			return err
		}
		for _, l := range r.Lines {
			if err := m.stock.Confirm(ctx, h, l.ProductID, l.Size, l.Qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.pub.Emit(events.EventStockConfirmed, r.SessionID, events.StockConfirmedPayload{
		ReservationID: r.ID,
		Lines:         toEventLines(r.Lines),
	})
	return nil
}

// Release cancels the hold and returns its units to availability.
func (m *Manager) Release(ctx context.Context, reservationID, reason string) error {
	r, err := m.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	return m.release(ctx, r, StatusCancelled, reason)
}

// Expire is Release for the reconciliation sweep; re-running it on an
// already-expired reservation is a no-op.
func (m *Manager) Expire(ctx context.Context, reservationID string) error {
	r, err := m.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	return m.release(ctx, r, StatusExpired, "expired")
}

func (m *Manager) release(ctx context.Context, r *Reservation, to Status, reason string) error {
	if r.Status.Terminal() {
		return nil
	}

	// The conditional transition is the gate: only the caller that wins it
	// releases the stock, so a concurrent sweep and cancel cannot both run.
	err := m.store.Transition(ctx, nil, r.ID, StatusActive, to)
	if errors.Is(err, ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	// Releasing is always safe to attempt per line; a partial failure must
	// not hold the remaining lines hostage.
	var failed []error
	for _, l := range r.Lines {
		if err := m.stock.Release(ctx, nil, l.ProductID, l.Size, l.Qty); err != nil {
			m.log.Error().Err(err).Str("reservation_id", r.ID).
				Str("product_id", l.ProductID).Str("size", l.Size).
				Msg("line release failed")
			failed = append(failed, fmt.Errorf("%s/%s: %w", l.ProductID, l.Size, err))
		}
	}

	if s, serr := m.store.GetSession(ctx, r.SessionID); serr == nil {
		s.StockReserved = false
		if to == StatusExpired {
			s.Status = SessionExpired
		}
		s.UpdatedAt = m.now().UTC()
		if err := m.store.SaveSession(ctx, nil, s); err != nil {
			m.log.Error().Err(err).Str("session_id", r.SessionID).Msg("session update failed")
		}
	}

	m.pub.Emit(events.EventStockReleased, r.SessionID, events.StockReleasedPayload{
		ReservationID: r.ID,
		Reason:        reason,
		Lines:         toEventLines(r.Lines),
	})
	return errors.Join(failed...)
}

// CheckAvailability answers from the ledger but never trusts the cached
// reserved counter blindly: it recomputes the held quantity from active
// reservations and heals the counter when they disagree.
func (m *Manager) CheckAvailability(ctx context.Context, productID, size string, qty int) (Availability, error) {
	if qty <= 0 {
		return Availability{}, errs.Newf(errs.KindValidation, "invalid qty %d", qty)
	}
	v, err := m.stock.Get(ctx, productID, size)
	if err != nil {
		return Availability{}, err
	}

	actual, err := m.store.ActiveReservedQty(ctx, productID, size)
	if err != nil {
		return Availability{}, err
	}
	if actual != v.Reserved {
		m.log.Warn().Str("product_id", productID).Str("size", size).
			Int("stored", v.Reserved).Int("recomputed", actual).
			Msg("reserved counter drift, healing")
		switch herr := m.stock.SetReserved(ctx, nil, productID, size, v.Reserved, actual); {
		case errors.Is(herr, stock.ErrCounterConflict):
			// A concurrent conditional write moved the counter between the
			// recount and the heal. That writer's value is the live truth;
			// answer from a fresh read and leave the counter alone.
			v, err = m.stock.Get(ctx, productID, size)
			if err != nil {
				return Availability{}, err
			}
		case herr != nil:
			return Availability{}, herr
		default:
			v.Reserved = actual
		}
	}

	avail := v.Available()
	return Availability{Available: avail >= qty, AvailableQty: avail}, nil
}

func toEventLines(lines []Line) []events.Line {
	out := make([]events.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, events.Line{ProductID: l.ProductID, Size: l.Size, Qty: l.Qty})
	}
	return out
}
