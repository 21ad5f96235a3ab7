package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prasetya/stockguard/internal/breaker"
	"github.com/prasetya/stockguard/internal/errs"
	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/redisx"
	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/stock"
)

type ReserveReq struct {
	SessionID string        `json:"session_id"`
	UserRef   string        `json:"user_ref"`
	Items     []orders.Item `json:"items"`
}

type ReserveResp struct {
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	GatewayTxID   string    `json:"gateway_tx_id"`
	TotalCents    int       `json:"total_cents"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type CheckoutHandler struct {
	Resv     *reservation.Manager
	Orders   orders.Store
	Sessions reservation.Store
	Redis    *redis.Client
	Breakers *breaker.Manager
	Log      zerolog.Logger
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout/reserve", h.reserve)
	r.Post("/checkout/{session}/cancel", h.cancel)
	r.Get("/availability", h.availability)
}

// reserve is the whole checkout entry: one call places the hold and creates
// the draft order awaiting payment.
func (h *CheckoutHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	lines := make([]reservation.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, reservation.Line{ProductID: it.ProductID, Size: it.Size, Qty: it.Qty})
	}

	var res *reservation.Reservation
	err := h.Breakers.Get(breaker.ClassStock).Execute(ctx, func(ctx context.Context) error {
		var rerr error
		res, rerr = h.Resv.Reserve(ctx, req.SessionID, req.UserRef, lines)
		return rerr
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	gatewayTxID := uuid.NewString()
	order := &orders.Order{
		ID:         uuid.NewString(),
		SessionID:  req.SessionID,
		UserRef:    req.UserRef,
		Items:      req.Items,
		Status:     orders.StatusDraft,
		PaymentRef: gatewayTxID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	order.TotalCents = order.Total()

	err = h.Breakers.Get(breaker.ClassOrder).Execute(ctx, func(ctx context.Context) error {
		if err := h.Orders.CreateDraft(ctx, nil, order); err != nil {
			return err
		}
		return h.Sessions.SaveSession(ctx, nil, &reservation.Session{
			ID:            req.SessionID,
			Status:        reservation.SessionAwaitingPayment,
			StockReserved: true,
			GatewayTxID:   gatewayTxID,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	})
	if err != nil {
		// The hold exists but the draft does not; release it so the units do
		// not sit locked until the sweep.
		if rerr := h.Resv.Release(ctx, res.ID, "draft_creation_failed"); rerr != nil {
			h.Log.Error().Err(rerr).Str("reservation_id", res.ID).Msg("rollback release failed")
		}
		h.writeError(w, err)
		return
	}

	if h.Redis != nil {
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, order.ID)
		_ = h.Redis.Set(ctx, statusKey, `{"status":"DRAFT"}`, redisx.TTLStatusCache).Err()
	}

	writeJSON(w, http.StatusCreated, ReserveResp{
		ReservationID: res.ID,
		OrderID:       order.ID,
		GatewayTxID:   gatewayTxID,
		TotalCents:    order.TotalCents,
		ExpiresAt:     res.ExpiresAt,
	})
}

func (h *CheckoutHandler) cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	hold, err := h.Sessions.ActiveBySession(ctx, sessionID)
	if errors.Is(err, reservation.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_active_hold"})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Resv.Release(ctx, hold.ID, "user_cancelled"); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "reservation_id": hold.ID})
}

func (h *CheckoutHandler) availability(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	size := r.URL.Query().Get("size")
	qty, _ := strconv.Atoi(r.URL.Query().Get("qty"))
	if qty == 0 {
		qty = 1
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	av, err := h.Resv.CheckAvailability(ctx, productID, size, qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *CheckoutHandler) writeError(w http.ResponseWriter, err error) {
	var ise *stock.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"product_id": ise.ProductID,
			"size":       ise.Size,
			"requested":  ise.Requested,
			"available":  ise.Available,
		})
	case errors.Is(err, breaker.ErrOpen):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
	case errs.IsKind(err, errs.KindValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, stock.ErrVariantNotFound), errors.Is(err, reservation.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.Log.Error().Err(err).Msg("checkout request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
