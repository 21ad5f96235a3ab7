// Package memstore is an in-memory implementation of the engine's store
// interfaces. It emulates the real store's document-level atomicity with a
// single mutex and supports injected transient conflicts, which is what the
// tests (and broker-less local runs) use instead of Postgres.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/stock"
	"github.com/prasetya/stockguard/internal/tx"
	"github.com/prasetya/stockguard/internal/webhook"
)

// ErrTransient is what injected write conflicts surface as; the transaction
// runner treats it as retryable.
var ErrTransient = errors.New("transient write conflict")

type variantKey struct{ product, size string }

type Store struct {
	mu           sync.Mutex
	variants     map[variantKey]stock.VariantStock
	reservations map[string]reservation.Reservation
	sessions     map[string]reservation.Session
	orders       map[string]orders.Order
	keys         map[string]webhook.KeyRecord

	failTx    int
	failBegin error

	now func() time.Time
}

var (
	_ stock.Store       = (*Store)(nil)
	_ webhook.KeyStore  = (*Store)(nil)
	_ tx.Runner         = (*Store)(nil)
	_ reservation.Store = (*Reservations)(nil)
	_ orders.Store      = (*Orders)(nil)
)

func New() *Store {
	return &Store{
		variants:     make(map[variantKey]stock.VariantStock),
		reservations: make(map[string]reservation.Reservation),
		sessions:     make(map[string]reservation.Session),
		orders:       make(map[string]orders.Order),
		keys:         make(map[string]webhook.KeyRecord),
		now:          time.Now,
	}
}

// SetNow overrides the clock (tests).
func (s *Store) SetNow(now func() time.Time) { s.now = now }

// PutVariant seeds the ledger.
func (s *Store) PutVariant(productID, size string, stockQty, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variantKey{productID, size}] = stock.VariantStock{
		ProductID: productID, Size: size, Stock: stockQty, Reserved: reserved, UpdatedAt: s.now().UTC(),
	}
}

// FailNextTx makes the next n transaction attempts fail with ErrTransient
// before running their function.
func (s *Store) FailNextTx(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTx = n
}

// FailNextBegin makes the next KeyStore.Begin return err.
func (s *Store) FailNextBegin(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBegin = err
}

// lock is transaction-aware: inside WithTransaction the mutex is already
// held and ops receive a non-nil handle.
func (s *Store) lock(h tx.Handle) func() {
	if h != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// ---- tx.Runner ----

type txToken struct{}

func (s *Store) WithTransaction(ctx context.Context, opts tx.Options, fn func(ctx context.Context, h tx.Handle) error) error {
	retryable := func(err error) bool { return errors.Is(err, ErrTransient) }
	return tx.WithRetry(ctx, opts, retryable, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failTx > 0 {
			s.failTx--
			return ErrTransient
		}
		snap := s.snapshot()
		if err := fn(ctx, txToken{}); err != nil {
			s.restore(snap)
			return err
		}
		return nil
	})
}

type snapshot struct {
	variants     map[variantKey]stock.VariantStock
	reservations map[string]reservation.Reservation
	sessions     map[string]reservation.Session
	orders       map[string]orders.Order
	keys         map[string]webhook.KeyRecord
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		variants:     copyMap(s.variants),
		reservations: copyMap(s.reservations),
		sessions:     copyMap(s.sessions),
		orders:       copyMap(s.orders),
		keys:         copyMap(s.keys),
	}
}

func (s *Store) restore(snap snapshot) {
	s.variants = snap.variants
	s.reservations = snap.reservations
	s.sessions = snap.sessions
	s.orders = snap.orders
	s.keys = snap.keys
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ---- stock.Store ----

func (s *Store) Reserve(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	defer s.lock(h)()
	v, err := s.variant(productID, size, qty)
	if err != nil {
		return err
	}
	if v.Stock-v.Reserved < qty {
		return &stock.InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: v.Stock - v.Reserved}
	}
	v.Reserved += qty
	s.put(v)
	return nil
}

func (s *Store) Confirm(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	defer s.lock(h)()
	v, err := s.variant(productID, size, qty)
	if err != nil {
		return err
	}
	if v.Stock < qty || v.Reserved < qty {
		return &stock.InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: min(v.Stock, v.Reserved)}
	}
	v.Stock -= qty
	v.Reserved -= qty
	s.put(v)
	return nil
}

func (s *Store) Release(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	defer s.lock(h)()
	v, err := s.variant(productID, size, qty)
	if err != nil {
		return err
	}
	if v.Reserved < qty {
		return &stock.InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: v.Reserved}
	}
	v.Reserved -= qty
	s.put(v)
	return nil
}

func (s *Store) Deduct(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	defer s.lock(h)()
	v, err := s.variant(productID, size, qty)
	if err != nil {
		return err
	}
	if v.Stock-v.Reserved < qty {
		return &stock.InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: v.Stock - v.Reserved}
	}
	v.Stock -= qty
	s.put(v)
	return nil
}

func (s *Store) Restore(ctx context.Context, h tx.Handle, productID, size string, qty int) error {
	defer s.lock(h)()
	v, err := s.variant(productID, size, qty)
	if err != nil {
		return err
	}
	v.Stock += qty
	s.put(v)
	return nil
}

func (s *Store) Get(ctx context.Context, productID, size string) (stock.VariantStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[variantKey{productID, size}]
	if !ok {
		return stock.VariantStock{}, fmt.Errorf("%s/%s: %w", productID, size, stock.ErrVariantNotFound)
	}
	return v, nil
}

func (s *Store) SetReserved(ctx context.Context, h tx.Handle, productID, size string, expected, reserved int) error {
	defer s.lock(h)()
	v, ok := s.variants[variantKey{productID, size}]
	if !ok {
		return fmt.Errorf("%s/%s: %w", productID, size, stock.ErrVariantNotFound)
	}
	if v.Reserved != expected {
		return fmt.Errorf("%s/%s: reserved moved %d -> %d: %w",
			productID, size, expected, v.Reserved, stock.ErrCounterConflict)
	}
	v.Reserved = reserved
	s.put(v)
	return nil
}

func (s *Store) Summary(ctx context.Context, lowThreshold int) (stock.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum stock.Summary
	for _, v := range s.variants {
		sum.Variants++
		switch avail := v.Available(); {
		case avail <= 0:
			sum.OutOfStock++
		case avail <= lowThreshold:
			sum.LowStock++
		}
	}
	return sum, nil
}

func (s *Store) variant(productID, size string, qty int) (stock.VariantStock, error) {
	if qty <= 0 {
		return stock.VariantStock{}, fmt.Errorf("invalid qty %d for %s/%s", qty, productID, size)
	}
	v, ok := s.variants[variantKey{productID, size}]
	if !ok {
		return stock.VariantStock{}, fmt.Errorf("%s/%s: %w", productID, size, stock.ErrVariantNotFound)
	}
	return v, nil
}

func (s *Store) put(v stock.VariantStock) {
	v.UpdatedAt = s.now().UTC()
	s.variants[variantKey{v.ProductID, v.Size}] = v
}

// ---- reservation.Store (adapter: Get/Transition signatures would collide
// with the other stores on a single type) ----

type Reservations struct{ s *Store }

func (s *Store) Reservations() *Reservations { return &Reservations{s} }

func (rs *Reservations) Create(ctx context.Context, h tx.Handle, r *reservation.Reservation) error {
	s := rs.s
	defer s.lock(h)()
	cp := *r
	cp.Lines = append([]reservation.Line(nil), r.Lines...)
	s.reservations[r.ID] = cp
	return nil
}

func (rs *Reservations) Get(ctx context.Context, id string) (*reservation.Reservation, error) {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, reservation.ErrNotFound
	}
	cp := r
	return &cp, nil
}

func (rs *Reservations) ActiveBySession(ctx context.Context, sessionID string) (*reservation.Reservation, error) {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.SessionID == sessionID && r.Status == reservation.StatusActive {
			cp := r
			return &cp, nil
		}
	}
	return nil, reservation.ErrNotFound
}

func (rs *Reservations) Transition(ctx context.Context, h tx.Handle, id string, from, to reservation.Status) error {
	s := rs.s
	defer s.lock(h)()
	r, ok := s.reservations[id]
	if !ok {
		return reservation.ErrNotFound
	}
	if r.Status != from {
		return fmt.Errorf("reservation %s is %s: %w", id, r.Status, reservation.ErrStatusConflict)
	}
	r.Status = to
	s.reservations[id] = r
	return nil
}

func (rs *Reservations) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]reservation.Reservation, error) {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reservation.Reservation
	for _, r := range s.reservations {
		if r.Status == reservation.StatusActive && !r.ExpiresAt.After(asOf) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (rs *Reservations) ActiveReservedQty(ctx context.Context, productID, size string) (int, error) {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.reservations {
		if r.Status != reservation.StatusActive {
			continue
		}
		for _, l := range r.Lines {
			if l.ProductID == productID && l.Size == size {
				total += l.Qty
			}
		}
	}
	return total, nil
}

func (rs *Reservations) SaveSession(ctx context.Context, h tx.Handle, sess *reservation.Session) error {
	s := rs.s
	defer s.lock(h)()
	cp := *sess
	if prev, ok := s.sessions[sess.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
		if cp.GatewayTxID == "" {
			cp.GatewayTxID = prev.GatewayTxID
		}
	}
	s.sessions[sess.ID] = cp
	return nil
}

func (rs *Reservations) GetSession(ctx context.Context, id string) (*reservation.Session, error) {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, reservation.ErrNotFound
	}
	cp := sess
	return &cp, nil
}

// ---- orders.Store ----

type Orders struct{ s *Store }

func (s *Store) Orders() *Orders { return &Orders{s} }

func (os *Orders) CreateDraft(ctx context.Context, h tx.Handle, o *orders.Order) error {
	s := os.s
	defer s.lock(h)()
	if o.Status == "" {
		o.Status = orders.StatusDraft
	}
	if o.Status != orders.StatusDraft {
		return fmt.Errorf("order %s: create requires DRAFT, got %s", o.ID, o.Status)
	}
	cp := *o
	cp.Items = append([]orders.Item(nil), o.Items...)
	s.orders[o.ID] = cp
	return nil
}

func (os *Orders) Get(ctx context.Context, id string) (*orders.Order, error) {
	s := os.s
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := o
	return &cp, nil
}

func (os *Orders) Transition(ctx context.Context, h tx.Handle, id string, from, to orders.Status) error {
	s := os.s
	defer s.lock(h)()
	o, ok := s.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if !orders.CanTransition(from, to) {
		return fmt.Errorf("invalid order transition %s -> %s", from, to)
	}
	if o.Status != from {
		return fmt.Errorf("order %s is %s: %w", id, o.Status, orders.ErrStatusConflict)
	}
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	s.orders[id] = o
	return nil
}

func (os *Orders) ListStaleDrafts(ctx context.Context, cutoff time.Time, limit int) ([]orders.Order, error) {
	s := os.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.Status == orders.StatusDraft && o.CreatedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- webhook.KeyStore ----

func (s *Store) Begin(ctx context.Context, rec *webhook.KeyRecord) (*webhook.KeyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBegin != nil {
		err := s.failBegin
		s.failBegin = nil
		return nil, false, err
	}
	if k, ok := s.keys[rec.Key]; ok && !k.Expired(s.now()) && k.Status != webhook.KeyFailed {
		cp := k
		return &cp, false, nil
	}
	s.keys[rec.Key] = *rec
	return nil, true, nil
}

func (s *Store) Lookup(ctx context.Context, key string) (*webhook.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if !ok {
		return nil, nil
	}
	cp := k
	return &cp, nil
}

func (s *Store) Complete(ctx context.Context, h tx.Handle, key string, code int, body []byte) error {
	defer s.lock(h)()
	k, ok := s.keys[key]
	if !ok {
		return fmt.Errorf("idempotency key %s not found", key)
	}
	k.Status = webhook.KeyCompleted
	k.ResponseCode = code
	k.ResponseBody = body
	s.keys[key] = k
	return nil
}

func (s *Store) Fail(ctx context.Context, key string, code int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if !ok {
		return fmt.Errorf("idempotency key %s not found", key)
	}
	k.Status = webhook.KeyFailed
	k.ResponseCode = code
	k.ResponseBody = body
	s.keys[key] = k
	return nil
}
