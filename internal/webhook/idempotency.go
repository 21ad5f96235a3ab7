package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/prasetya/stockguard/internal/tx"
)

type KeyStatus string

const (
	KeyProcessing KeyStatus = "processing"
	KeyCompleted  KeyStatus = "completed"
	KeyFailed     KeyStatus = "failed"
)

// KeyRecord is the durable idempotency record for one webhook event. It also
// carries the raw payload, which is what lets the endpoint acknowledge
// receipt independently of processing outcome.
type KeyRecord struct {
	Key          string
	Status       KeyStatus
	RawEvent     []byte
	ResponseCode int
	ResponseBody []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (r *KeyRecord) Expired(now time.Time) bool { return now.After(r.ExpiresAt) }

// KeyStore serializes duplicate deliveries of the same event. Begin is the
// concurrency gate: exactly one caller gets created=true for a live key.
type KeyStore interface {
	// Begin inserts rec in processing state. If a live record already exists
	// it is returned with created=false — unless it is failed or expired, in
	// which case the caller takes it over (created=true, fresh retry).
	Begin(ctx context.Context, rec *KeyRecord) (existing *KeyRecord, created bool, err error)

	// Lookup reads the record without touching the gate; nil when the key is
	// unknown.
	Lookup(ctx context.Context, key string) (*KeyRecord, error)

	// Complete marks the key completed and attaches the response to replay
	// on redelivery. Accepts a transaction handle so the mark can commit
	// atomically with the work it records.
	Complete(ctx context.Context, h tx.Handle, key string, code int, body []byte) error

	// Fail marks the key failed; a later delivery of the same event may
	// retry from scratch.
	Fail(ctx context.Context, key string, code int, body []byte) error
}

// DeriveKey fingerprints a delivery. An explicit Idempotency-Key header wins;
// otherwise the key is a hash over stable transaction fields only — never
// timestamps — so retried deliveries of the same event collide.
func DeriveKey(headerKey string, ev Event) string {
	var sum [32]byte
	if headerKey != "" {
		sum = sha256.Sum256([]byte(headerKey))
	} else {
		sum = sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", ev.TransactionID, ev.OrderID, ev.AmountCents, ev.Status))
	}
	return hex.EncodeToString(sum[:])
}
