package reservation

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool { return s != StatusActive }

type Line struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Qty       int    `json:"qty"`
}

// Reservation is one checkout's time-boxed hold on stock. ExpiresAt is fixed
// at creation; only an explicit re-reservation produces a new expiry.
type Reservation struct {
	ID        string
	SessionID string
	UserRef   string
	Lines     []Line
	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time
}

type SessionStatus string

const (
	SessionPending         SessionStatus = "pending"
	SessionAwaitingPayment SessionStatus = "awaiting_payment"
	SessionConfirmed       SessionStatus = "confirmed"
	SessionFailed          SessionStatus = "failed"
	SessionExpired         SessionStatus = "expired"
)

// Session tracks whether stock is currently held for a checkout and carries
// the gateway transaction id correlating it to the webhook.
type Session struct {
	ID            string
	Status        SessionStatus
	StockReserved bool
	GatewayTxID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
