package health

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/prasetya/stockguard/internal/events"
	kafkax "github.com/prasetya/stockguard/internal/kafka"
	"github.com/prasetya/stockguard/internal/redisx"
)

// AlertSink consumes alert events off the broker and keeps the bounded
// active-alert list in Redis that the health report reads.
type AlertSink struct {
	Redis *redis.Client
	Log   zerolog.Logger
}

// HandleMessage is wired as a kafka consumer handler.
func (s *AlertSink) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	var alert Alert
	switch env.EventType {
	case events.EventStockAlert:
		p, err := kafkax.UnwrapPayload[events.StockAlertPayload](env.Payload)
		if err != nil {
			return err
		}
		alert = Alert{Type: p.Type, ProductID: p.ProductID, Size: p.Size, OrderID: p.OrderID, Message: p.Message, At: env.OccurredAt}
	case events.EventOrderFailed:
		p, err := kafkax.UnwrapPayload[events.OrderFailedPayload](env.Payload)
		if err != nil {
			return err
		}
		alert = Alert{Type: "fulfillment_failed", OrderID: p.OrderID, Message: p.Reason, At: env.OccurredAt}
	default:
		return nil // ignore
	}

	b, _ := json.Marshal(alert)
	pipe := s.Redis.TxPipeline()
	pipe.LPush(ctx, redisx.KeyAlerts, b)
	pipe.LTrim(ctx, redisx.KeyAlerts, 0, redisx.MaxAlerts-1)
	pipe.Expire(ctx, redisx.KeyAlerts, redisx.TTLAlerts)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	s.Log.Warn().Str("type", alert.Type).Str("order_id", alert.OrderID).
		Str("message", alert.Message).Time("at", alert.At).Msg("alert recorded")
	return nil
}
