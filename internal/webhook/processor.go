package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prasetya/stockguard/internal/events"
	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/redisx"
	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/stock"
	"github.com/prasetya/stockguard/internal/tx"
)

// Event is the gateway callback payload after signature verification.
type Event struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	AmountCents   int    `json:"amount_cents"`
	Status        string `json:"status"` // paid | failed
}

// Result is what the HTTP layer writes back. Per the gateway contract: 200
// once the event is durably recorded, 401 only for a bad signature, 500 only
// when the record itself could not be written.
type Result struct {
	Code int
	Body []byte
}

type ProcessorConfig struct {
	Secret           []byte
	KeyTTL           time.Duration // default 1h
	Keys             KeyStore
	Orders           orders.Store
	Stock            stock.Store
	Reservations     *reservation.Manager
	ReservationStore reservation.Store
	Tx               tx.Runner
	Redis            *redis.Client // optional dedup fast-path hint
	Events           events.Publisher
	Logger           zerolog.Logger
}

// Processor turns a payment-gateway callback into exactly one order state
// transition.
type Processor struct {
	cfg ProcessorConfig
	log zerolog.Logger
	now func() time.Time
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = time.Hour
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	return &Processor{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "webhook").Logger(),
		now: time.Now,
	}
}

// VerifySignature checks the gateway's HMAC-SHA256 over the raw body. The
// body must not be parsed before this passes.
func (p *Processor) VerifySignature(rawBody []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, p.cfg.Secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Handle processes one delivery end to end.
func (p *Processor) Handle(ctx context.Context, rawBody []byte, signature, headerKey string) Result {
	if !p.VerifySignature(rawBody, signature) {
		return respond(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var ev Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return respond(http.StatusBadRequest, map[string]string{"error": "malformed payload"})
	}
	if ev.TransactionID == "" || ev.OrderID == "" || ev.Status == "" {
		return respond(http.StatusBadRequest, map[string]string{"error": "missing transaction_id, order_id or status"})
	}

	key := DeriveKey(headerKey, ev)
	now := p.now().UTC()

	// Fast path: a completed key replays without touching the insert gate.
	// Redis is a hint only, gating the extra read; the key store stays
	// authoritative for the response.
	peek := p.cfg.Redis == nil
	if p.cfg.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyWebhookDedup, key)
		if n, _ := p.cfg.Redis.Exists(ctx, dkey).Result(); n > 0 {
			peek = true
		}
	}
	if peek {
		if rec, err := p.cfg.Keys.Lookup(ctx, key); err == nil && rec != nil &&
			rec.Status == KeyCompleted && !rec.Expired(now) {
			return Result{Code: rec.ResponseCode, Body: rec.ResponseBody}
		}
	}

	rec := &KeyRecord{
		Key:       key,
		Status:    KeyProcessing,
		RawEvent:  rawBody,
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.KeyTTL),
	}
	existing, created, err := p.cfg.Keys.Begin(ctx, rec)
	if err != nil {
		// The one 500: the raw event could not be durably recorded, so the
		// gateway must keep retrying.
		p.log.Error().Err(err).Str("key", key).Msg("failed to record webhook event")
		return respond(http.StatusInternalServerError, map[string]string{"error": "failed to record event"})
	}
	if !created {
		switch existing.Status {
		case KeyCompleted:
			// Replay the recorded response verbatim, no reprocessing.
			return Result{Code: existing.ResponseCode, Body: existing.ResponseBody}
		default: // processing: a concurrent duplicate must not proceed
			return respond(http.StatusConflict, map[string]string{"status": "in_progress"})
		}
	}

	res := p.process(ctx, ev, key)

	if p.cfg.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyWebhookDedup, key)
		_ = p.cfg.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	return res
}

func (p *Processor) process(ctx context.Context, ev Event, key string) Result {
	order, err := p.cfg.Orders.Get(ctx, ev.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return p.fail(ctx, key, http.StatusOK, map[string]string{"status": "ignored", "reason": "unknown order"})
	}
	if err != nil {
		return p.fail(ctx, key, http.StatusOK, map[string]string{"status": "error"})
	}

	if order.Status != orders.StatusDraft {
		// Terminal already; record and replay the settled status.
		return p.complete(ctx, key, http.StatusOK, map[string]string{
			"status": strings.ToLower(string(order.Status)), "order_id": order.ID,
		})
	}

	switch ev.Status {
	case "paid":
		return p.ConfirmPaidOrder(ctx, order, key)
	case "failed":
		return p.CancelFailedOrder(ctx, order, key, "payment_failed")
	default:
		return p.fail(ctx, key, http.StatusOK, map[string]string{"status": "ignored", "reason": "unknown payment status"})
	}
}

// ConfirmPaidOrder runs the success path: within one transaction the order
// moves DRAFT -> CONFIRMED, every line's stock is confirmed, the session
// settles, and the idempotency key is completed with the response attached.
// It is also the finalizer the reconciliation sweep uses for gateway-paid
// drafts (key may be empty there).
func (p *Processor) ConfirmPaidOrder(ctx context.Context, order *orders.Order, key string) Result {
	body := map[string]string{"status": "confirmed", "order_id": order.ID}
	respBody := mustJSON(body)

	hold, herr := p.cfg.ReservationStore.ActiveBySession(ctx, order.SessionID)
	if herr != nil && !errors.Is(herr, reservation.ErrNotFound) {
		return p.fail(ctx, key, http.StatusOK, map[string]string{"status": "error"})
	}
	sess, serr := p.cfg.ReservationStore.GetSession(ctx, order.SessionID)
	if serr != nil {
		sess = nil
	}

	err := p.cfg.Tx.WithTransaction(ctx, tx.Options{}, func(ctx context.Context, h tx.Handle) error {
		if err := p.cfg.Orders.Transition(ctx, h, order.ID, orders.StatusDraft, orders.StatusConfirmed); err != nil {
			return err
		}
		for _, it := range order.Items {
			if err := p.cfg.Stock.Confirm(ctx, h, it.ProductID, it.Size, it.Qty); err != nil {
				return err
			}
		}
		if hold != nil {
			if err := p.cfg.ReservationStore.Transition(ctx, h, hold.ID, reservation.StatusActive, reservation.StatusConfirmed); err != nil {
				return err
			}
		}
		if sess != nil {
			sess.Status = reservation.SessionConfirmed
			sess.StockReserved = false
			sess.UpdatedAt = p.now().UTC()
			if err := p.cfg.ReservationStore.SaveSession(ctx, h, sess); err != nil {
				return err
			}
		}
		if key != "" {
			return p.cfg.Keys.Complete(ctx, h, key, http.StatusOK, respBody)
		}
		return nil
	})

	switch {
	case err == nil:
		p.cfg.Events.Emit(events.EventOrderConfirmed, order.ID, events.OrderConfirmedPayload{
			OrderID: order.ID, TotalCents: order.TotalCents,
		})
		p.log.Info().Str("order_id", order.ID).Msg("order confirmed")
		return Result{Code: http.StatusOK, Body: respBody}

	case errors.Is(err, orders.ErrStatusConflict):
		// Lost the race against another delivery; report whatever won.
		settled, gerr := p.cfg.Orders.Get(ctx, order.ID)
		if gerr != nil {
			return p.fail(ctx, key, http.StatusOK, map[string]string{"status": "error"})
		}
		return p.complete(ctx, key, http.StatusOK, map[string]string{
			"status": strings.ToLower(string(settled.Status)), "order_id": order.ID,
		})

	case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrVariantNotFound):
		// The gateway took the money but the stock cannot be confirmed.
		// Terminal: never auto-retried, a retry could double-deduct or
		// double-fulfill. Flag for manual review.
		return p.markFailed(ctx, order, key, err)

	default:
		// Infrastructure failure: leave the order DRAFT, mark the key failed
		// so a redelivery (or the reconciliation sweep) settles it.
		p.log.Error().Err(err).Str("order_id", order.ID).Msg("confirm transaction failed")
		return p.fail(ctx, key, http.StatusOK, map[string]string{"status": "deferred", "order_id": order.ID})
	}
}

func (p *Processor) markFailed(ctx context.Context, order *orders.Order, key string, cause error) Result {
	if err := p.cfg.Orders.Transition(ctx, nil, order.ID, orders.StatusDraft, orders.StatusFailed); err != nil && !errors.Is(err, orders.ErrStatusConflict) {
		p.log.Error().Err(err).Str("order_id", order.ID).Msg("failed to mark order FAILED")
	}
	p.cfg.Events.Emit(events.EventOrderFailed, order.ID, events.OrderFailedPayload{
		OrderID: order.ID, Reason: cause.Error(),
	})
	p.cfg.Events.Emit(events.EventStockAlert, order.ID, events.StockAlertPayload{
		Type:    "fulfillment_failed",
		OrderID: order.ID,
		Message: fmt.Sprintf("paid order %s could not confirm stock: %v; manual review required", order.ID, cause),
	})
	p.log.Error().Err(cause).Str("order_id", order.ID).Msg("paid order unfulfillable, manual review required")
	return p.complete(ctx, key, http.StatusOK, map[string]string{
		"status": "failed", "order_id": order.ID, "reason": "stock_confirmation_failed",
	})
}

// CancelFailedOrder handles a terminal payment failure: the draft is
// cancelled and any hold released.
func (p *Processor) CancelFailedOrder(ctx context.Context, order *orders.Order, key, reason string) Result {
	if hold, err := p.cfg.ReservationStore.ActiveBySession(ctx, order.SessionID); err == nil {
		if rerr := p.cfg.Reservations.Release(ctx, hold.ID, reason); rerr != nil {
			p.log.Error().Err(rerr).Str("order_id", order.ID).Msg("hold release failed")
		}
	}
	if err := p.cfg.Orders.Transition(ctx, nil, order.ID, orders.StatusDraft, orders.StatusCancelled); err != nil && !errors.Is(err, orders.ErrStatusConflict) {
		return p.fail(ctx, key, http.StatusOK, map[string]string{"status": "error"})
	}
	if s, serr := p.cfg.ReservationStore.GetSession(ctx, order.SessionID); serr == nil {
		s.Status = reservation.SessionFailed
		s.UpdatedAt = p.now().UTC()
		_ = p.cfg.ReservationStore.SaveSession(ctx, nil, s)
	}
	p.log.Info().Str("order_id", order.ID).Str("reason", reason).Msg("order cancelled")
	return p.complete(ctx, key, http.StatusOK, map[string]string{"status": "cancelled", "order_id": order.ID})
}

func (p *Processor) complete(ctx context.Context, key string, code int, v any) Result {
	body := mustJSON(v)
	if key != "" {
		if err := p.cfg.Keys.Complete(ctx, nil, key, code, body); err != nil {
			p.log.Error().Err(err).Str("key", key).Msg("failed to complete idempotency key")
		}
	}
	return Result{Code: code, Body: body}
}

func (p *Processor) fail(ctx context.Context, key string, code int, v any) Result {
	body := mustJSON(v)
	if key != "" {
		if err := p.cfg.Keys.Fail(ctx, key, code, body); err != nil {
			p.log.Error().Err(err).Str("key", key).Msg("failed to fail idempotency key")
		}
	}
	return Result{Code: code, Body: body}
}

func respond(code int, v any) Result {
	return Result{Code: code, Body: mustJSON(v)}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
