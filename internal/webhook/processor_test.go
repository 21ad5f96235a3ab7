package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetya/stockguard/internal/events"
	"github.com/prasetya/stockguard/internal/memstore"
	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/webhook"
)

var secret = []byte("test-secret")

type fixture struct {
	ms   *memstore.Store
	mgr  *reservation.Manager
	proc *webhook.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := memstore.New()
	mgr := reservation.NewManager(ms, ms.Reservations(), ms, time.Minute, events.Nop{}, zerolog.Nop())
	proc := webhook.NewProcessor(webhook.ProcessorConfig{
		Secret:           secret,
		Keys:             ms,
		Orders:           ms.Orders(),
		Stock:            ms,
		Reservations:     mgr,
		ReservationStore: ms.Reservations(),
		Tx:               ms,
		Events:           events.Nop{},
		Logger:           zerolog.Nop(),
	})
	return &fixture{ms: ms, mgr: mgr, proc: proc}
}

// seedCheckout puts a variant, an active hold and a draft order in place, the
// state a checkout leaves behind while waiting for the gateway.
func (f *fixture) seedCheckout(t *testing.T, qty int) *orders.Order {
	t.Helper()
	ctx := context.Background()
	f.ms.PutVariant("shoe-1", "42", 5, 0)

	_, err := f.mgr.Reserve(ctx, "sess-1", "user-1", []reservation.Line{{ProductID: "shoe-1", Size: "42", Qty: qty}})
	require.NoError(t, err)

	now := time.Now().UTC()
	o := &orders.Order{
		ID:         "ord-1",
		SessionID:  "sess-1",
		UserRef:    "user-1",
		Items:      []orders.Item{{ProductID: "shoe-1", Size: "42", Qty: qty, PriceCents: 1000}},
		TotalCents: qty * 1000,
		Status:     orders.StatusDraft,
		PaymentRef: "gw-1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.ms.Orders().CreateDraft(ctx, nil, o))
	return o
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func paidBody(orderID string, amount int) []byte {
	return fmt.Appendf(nil, `{"transaction_id":"gw-1","order_id":"%s","amount_cents":%d,"status":"paid"}`, orderID, amount)
}

func TestRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.seedCheckout(t, 2)
	body := paidBody("ord-1", 2000)

	res := f.proc.Handle(context.Background(), body, "sha256=deadbeef", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	o, _ := f.ms.Orders().Get(context.Background(), "ord-1")
	assert.Equal(t, orders.StatusDraft, o.Status, "rejected delivery must not touch the order")
}

func TestMalformedPayload(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"transaction_id":`)
	res := f.proc.Handle(context.Background(), body, sign(body), "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	body = []byte(`{"transaction_id":"gw-1"}`)
	res = f.proc.Handle(context.Background(), body, sign(body), "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestPaidConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCheckout(t, 2)
	ctx := context.Background()
	body := paidBody("ord-1", 2000)

	res := f.proc.Handle(ctx, body, sign(body), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Body), "confirmed")

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusConfirmed, o.Status)

	v, _ := f.ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 3, v.Stock)
	assert.Equal(t, 0, v.Reserved)

	sess, err := f.ms.Reservations().GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, reservation.SessionConfirmed, sess.Status)
}

func TestDuplicateDeliveryReplaysRecordedResponse(t *testing.T) {
	f := newFixture(t)
	f.seedCheckout(t, 2)
	ctx := context.Background()
	body := paidBody("ord-1", 2000)

	first := f.proc.Handle(ctx, body, sign(body), "")
	require.Equal(t, http.StatusOK, first.Code)

	second := f.proc.Handle(ctx, body, sign(body), "")
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, string(first.Body), string(second.Body), "replay must be verbatim")

	v, _ := f.ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 3, v.Stock, "stock deducted exactly once")
}

func TestCompletedKeyReplaysWithoutInsertGate(t *testing.T) {
	f := newFixture(t)
	f.seedCheckout(t, 2)
	ctx := context.Background()
	body := paidBody("ord-1", 2000)

	first := f.proc.Handle(ctx, body, sign(body), "")
	require.Equal(t, http.StatusOK, first.Code)

	// A settled key must replay even when the insert gate is down.
	f.ms.FailNextBegin(errors.New("store down"))
	second := f.proc.Handle(ctx, body, sign(body), "")
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, string(first.Body), string(second.Body))
}

func TestConcurrentDuplicateConflicts(t *testing.T) {
	f := newFixture(t)
	f.seedCheckout(t, 2)
	ctx := context.Background()
	body := paidBody("ord-1", 2000)

	ev := webhook.Event{TransactionID: "gw-1", OrderID: "ord-1", AmountCents: 2000, Status: "paid"}
	key := webhook.DeriveKey("", ev)
	now := time.Now().UTC()
	_, created, err := f.ms.Begin(ctx, &webhook.KeyRecord{
		Key: key, Status: webhook.KeyProcessing, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, created)

	res := f.proc.Handle(ctx, body, sign(body), "")
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Contains(t, string(res.Body), "in_progress")

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusDraft, o.Status)
}

func TestFailedPaymentCancelsOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCheckout(t, 2)
	ctx := context.Background()
	body := []byte(`{"transaction_id":"gw-1","order_id":"ord-1","amount_cents":2000,"status":"failed"}`)

	res := f.proc.Handle(ctx, body, sign(body), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Body), "cancelled")

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusCancelled, o.Status)

	v, _ := f.ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 5, v.Stock, "nothing deducted")
	assert.Equal(t, 0, v.Reserved, "hold released")

	sess, err := f.ms.Reservations().GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, reservation.SessionFailed, sess.Status)
}

func TestPaidButUnfulfillableMarksOrderFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Draft without a hold and with more units than exist: the money cleared
	// but stock cannot confirm.
	f.ms.PutVariant("shoe-1", "42", 1, 0)
	now := time.Now().UTC()
	require.NoError(t, f.ms.Orders().CreateDraft(ctx, nil, &orders.Order{
		ID: "ord-1", SessionID: "sess-1", UserRef: "user-1",
		Items:      []orders.Item{{ProductID: "shoe-1", Size: "42", Qty: 3, PriceCents: 1000}},
		TotalCents: 3000, Status: orders.StatusDraft, PaymentRef: "gw-1",
		CreatedAt: now, UpdatedAt: now,
	}))
	body := paidBody("ord-1", 3000)

	res := f.proc.Handle(ctx, body, sign(body), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Body), "stock_confirmation_failed")

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusFailed, o.Status)

	// The key is completed: a redelivery replays instead of retrying the
	// deduction.
	replay := f.proc.Handle(ctx, body, sign(body), "")
	assert.Equal(t, string(res.Body), string(replay.Body))
	v, _ := f.ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 1, v.Stock, "stock untouched")
}

func TestUnknownOrderIgnored(t *testing.T) {
	f := newFixture(t)
	body := paidBody("no-such-order", 100)

	res := f.proc.Handle(context.Background(), body, sign(body), "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Body), "ignored")
}

func TestUnknownPaymentStatusIgnored(t *testing.T) {
	f := newFixture(t)
	f.seedCheckout(t, 2)
	body := []byte(`{"transaction_id":"gw-1","order_id":"ord-1","amount_cents":2000,"status":"refunded"}`)

	res := f.proc.Handle(context.Background(), body, sign(body), "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Body), "ignored")

	o, _ := f.ms.Orders().Get(context.Background(), "ord-1")
	assert.Equal(t, orders.StatusDraft, o.Status)
}

func TestRecordFailureReturns500(t *testing.T) {
	f := newFixture(t)
	f.seedCheckout(t, 2)
	ctx := context.Background()
	body := paidBody("ord-1", 2000)

	f.ms.FailNextBegin(errors.New("store down"))
	res := f.proc.Handle(ctx, body, sign(body), "")
	assert.Equal(t, http.StatusInternalServerError, res.Code)

	o, _ := f.ms.Orders().Get(ctx, "ord-1")
	assert.Equal(t, orders.StatusDraft, o.Status, "nothing processed without a durable record")

	// The gateway retries and the next delivery goes through.
	res = f.proc.Handle(ctx, body, sign(body), "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Body), "confirmed")
}

func TestDeriveKey(t *testing.T) {
	ev := webhook.Event{TransactionID: "gw-1", OrderID: "ord-1", AmountCents: 2000, Status: "paid"}

	assert.Equal(t, webhook.DeriveKey("", ev), webhook.DeriveKey("", ev))

	other := ev
	other.Status = "failed"
	assert.NotEqual(t, webhook.DeriveKey("", ev), webhook.DeriveKey("", other))

	// Explicit header wins over derived fields.
	assert.Equal(t, webhook.DeriveKey("idem-1", ev), webhook.DeriveKey("idem-1", other))
	assert.NotEqual(t, webhook.DeriveKey("idem-1", ev), webhook.DeriveKey("idem-2", ev))
}
