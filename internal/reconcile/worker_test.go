package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetya/stockguard/internal/events"
	"github.com/prasetya/stockguard/internal/memstore"
	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/payment"
	"github.com/prasetya/stockguard/internal/reconcile"
	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/webhook"
)

type fakeGateway struct {
	statuses map[string]payment.Status
	err      error
	calls    int
}

func (g *fakeGateway) QueryStatus(ctx context.Context, id string) (payment.Status, error) {
	g.calls++
	if g.err != nil {
		return payment.StatusUnknown, g.err
	}
	if s, ok := g.statuses[id]; ok {
		return s, nil
	}
	return payment.StatusUnknown, nil
}

type fixture struct {
	ms     *memstore.Store
	mgr    *reservation.Manager
	gw     *fakeGateway
	worker *reconcile.Worker
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	ms := memstore.New()
	mgr := reservation.NewManager(ms, ms.Reservations(), ms, ttl, events.Nop{}, zerolog.Nop())
	proc := webhook.NewProcessor(webhook.ProcessorConfig{
		Secret:           []byte("test-secret"),
		Keys:             ms,
		Orders:           ms.Orders(),
		Stock:            ms,
		Reservations:     mgr,
		ReservationStore: ms.Reservations(),
		Tx:               ms,
		Events:           events.Nop{},
		Logger:           zerolog.Nop(),
	})
	gw := &fakeGateway{statuses: make(map[string]payment.Status)}
	w := reconcile.NewWorker(reconcile.Config{
		DraftMaxAge:   30 * time.Minute,
		AbandonMaxAge: 24 * time.Hour,
	}, mgr, ms.Reservations(), ms.Orders(), proc, gw, nil, zerolog.Nop())
	return &fixture{ms: ms, mgr: mgr, gw: gw, worker: w}
}

func (f *fixture) seedDraft(t *testing.T, id string, age time.Duration, paymentRef string) {
	t.Helper()
	created := time.Now().UTC().Add(-age)
	require.NoError(t, f.ms.Orders().CreateDraft(context.Background(), nil, &orders.Order{
		ID: id, SessionID: "sess-" + id, UserRef: "user-1",
		Items:      []orders.Item{{ProductID: "shoe-1", Size: "42", Qty: 2, PriceCents: 1000}},
		TotalCents: 2000, Status: orders.StatusDraft, PaymentRef: paymentRef,
		CreatedAt: created, UpdatedAt: created,
	}))
}

func TestSweepReservationsExpiresAndIsIdempotent(t *testing.T) {
	// Nanosecond TTL: the hold is already expired when the sweep runs.
	f := newFixture(t, time.Nanosecond)
	f.ms.PutVariant("shoe-1", "42", 5, 0)
	ctx := context.Background()

	res, err := f.mgr.Reserve(ctx, "sess-1", "user-1", []reservation.Line{{ProductID: "shoe-1", Size: "42", Qty: 3}})
	require.NoError(t, err)

	n, err := f.worker.SweepReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, _ := f.ms.Get(ctx, "shoe-1", "42")
	assert.Zero(t, v.Reserved, "expired hold returns its units")

	r, _ := f.ms.Reservations().Get(ctx, res.ID)
	assert.Equal(t, reservation.StatusExpired, r.Status)

	n, err = f.worker.SweepReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep finds nothing")
	v, _ = f.ms.Get(ctx, "shoe-1", "42")
	assert.Zero(t, v.Reserved)
}

func TestSweepReservationsLeavesFreshHolds(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.ms.PutVariant("shoe-1", "42", 5, 0)
	ctx := context.Background()

	_, err := f.mgr.Reserve(ctx, "sess-1", "user-1", []reservation.Line{{ProductID: "shoe-1", Size: "42", Qty: 2}})
	require.NoError(t, err)

	n, err := f.worker.SweepReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	v, _ := f.ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 2, v.Reserved)
}

func TestSweepDraftsConfirmsPaid(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.ms.PutVariant("shoe-1", "42", 5, 2)
	f.seedDraft(t, "ord-1", time.Hour, "gw-1")
	f.gw.statuses["gw-1"] = payment.StatusPaid
	ctx := context.Background()

	n, err := f.worker.SweepDraftOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusConfirmed, o.Status)

	v, _ := f.ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 3, v.Stock)
	assert.Equal(t, 0, v.Reserved)
}

func TestSweepDraftsCancelsFailed(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.ms.PutVariant("shoe-1", "42", 5, 0)
	f.seedDraft(t, "ord-1", time.Hour, "gw-1")
	f.gw.statuses["gw-1"] = payment.StatusFailed
	ctx := context.Background()

	n, err := f.worker.SweepDraftOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusCancelled, o.Status)
}

func TestSweepDraftsLeavesPendingAlone(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seedDraft(t, "ord-1", time.Hour, "gw-1")
	f.gw.statuses["gw-1"] = payment.StatusPending
	ctx := context.Background()

	n, err := f.worker.SweepDraftOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the engine never guesses about money")

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusDraft, o.Status)
}

func TestSweepDraftsCancelsAbandonedPending(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seedDraft(t, "ord-1", 25*time.Hour, "gw-1")
	f.gw.statuses["gw-1"] = payment.StatusPending
	ctx := context.Background()

	n, err := f.worker.SweepDraftOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusCancelled, o.Status)
}

func TestSweepDraftsGatewayErrorUntouched(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seedDraft(t, "ord-1", time.Hour, "gw-1")
	f.gw.err = errors.New("gateway timeout")
	ctx := context.Background()

	n, err := f.worker.SweepDraftOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusDraft, o.Status)
}

func TestSweepDraftsUnknownStatusUntouched(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seedDraft(t, "ord-1", time.Hour, "gw-1")
	ctx := context.Background()

	n, err := f.worker.SweepDraftOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.gw.calls)
}

func TestSweepDraftsNoPaymentRef(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seedDraft(t, "young", time.Hour, "")
	f.seedDraft(t, "old", 25*time.Hour, "")
	ctx := context.Background()

	n, err := f.worker.SweepDraftOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.gw.calls, "nothing to ask the gateway")

	young, _ := f.ms.Orders().Get(ctx, "young")
	old, _ := f.ms.Orders().Get(ctx, "old")
	assert.Equal(t, orders.StatusDraft, young.Status)
	assert.Equal(t, orders.StatusCancelled, old.Status)
}
