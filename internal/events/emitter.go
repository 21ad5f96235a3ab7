package events

import (
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/prasetya/stockguard/internal/kafka"
)

// Publisher is what the engine components see: fire-and-forget event
// emission toward the excluded logging/metrics sinks.
type Publisher interface {
	Emit(eventType, correlationID string, payload any)
}

// Nop is for tests and wiring without a broker.
type Nop struct{}

func (Nop) Emit(string, string, any) {}

// Emitter routes each event type to its topic producer and wraps payloads in
// the versioned envelope.
type Emitter struct {
	Stock   *kafkax.Producer
	Orders  *kafkax.Producer
	Alerts  *kafkax.Producer
	Service string
}

func (e *Emitter) Emit(eventType, correlationID string, payload any) {
	p := e.producerFor(eventType)
	if p == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(correlationID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (e *Emitter) producerFor(eventType string) *kafkax.Producer {
	switch eventType {
	case EventStockReserved, EventStockReleased, EventStockConfirmed:
		return e.Stock
	case EventOrderConfirmed, EventOrderFailed:
		return e.Orders
	case EventStockAlert:
		return e.Alerts
	}
	return nil
}
