package events

import (
	"encoding/json"
	"time"
)

const (
	EventStockReserved  = "StockReserved"
	EventStockReleased  = "StockReleased"
	EventStockConfirmed = "StockConfirmed"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderFailed    = "OrderFailed"
	EventStockAlert     = "StockAlert"
)

type Envelope struct {
	EventID       string          `json:"event_id"`   // uuid
	EventType     string          `json:"event_type"` // one of the consts above
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"` // RFC3339
	Producer      string          `json:"producer"`    // e.g., "stockguard-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ---- per-event payloads ----

type Line struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Qty       int    `json:"qty"`
}

type StockReservedPayload struct {
	ReservationID string    `json:"reservation_id"`
	SessionID     string    `json:"session_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	Lines         []Line    `json:"lines"`
}

type StockReleasedPayload struct {
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"` // cancelled | expired | payment_failed
	Lines         []Line `json:"lines"`
}

type StockConfirmedPayload struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id,omitempty"`
	Lines         []Line `json:"lines"`
}

type OrderConfirmedPayload struct {
	OrderID    string `json:"order_id"`
	TotalCents int    `json:"total_cents"`
}

type OrderFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type StockAlertPayload struct {
	Type      string `json:"type"` // out_of_stock | low_stock | fulfillment_failed
	ProductID string `json:"product_id,omitempty"`
	Size      string `json:"size,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Message   string `json:"message"`
}
