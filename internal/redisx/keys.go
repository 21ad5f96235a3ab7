package redisx

import "time"

const (
	// Webhook dedup fast-path: dedup:webhook:{idempotency_key} -> "1".
	// Hint only; the store's key record is authoritative.
	KeyWebhookDedup = "dedup:webhook:%s"

	// Cached order status: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Active alerts list (JSON entries), maintained by the monitor consumer
	// and read by the health report.
	KeyAlerts = "alerts:active"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLAlerts      = 24 * time.Hour
)

// MaxAlerts bounds the active-alert list.
const MaxAlerts = 100
