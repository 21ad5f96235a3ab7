package payment

import "context"

type Status string

const (
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
	StatusUnknown Status = "unknown"
)

// Gateway is the status-query side of the external payment provider. The
// provider itself is a black box; the engine only asks it what happened to a
// transaction when the webhook path missed.
type Gateway interface {
	QueryStatus(ctx context.Context, gatewayTxID string) (Status, error)
}
