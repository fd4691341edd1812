package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

const (
	EventOrderPaid            = "order.paid"
	EventOrderFulfilled       = "order.fulfilled"
	EventOrderArtifactExpired = "order.artifact.expired"
)

// Envelope wraps every order event on the wire.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPaidPayload struct {
	OrderID  string    `json:"order_id"`
	ChapaRef string    `json:"chapa_ref,omitempty"`
	PaidAt   time.Time `json:"paid_at"`
}

type OrderFulfilledPayload struct {
	OrderID   string    `json:"order_id"`
	Enriched  bool      `json:"enriched"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ArtifactExpiredPayload struct {
	OrderID string `json:"order_id"`
	Deleted int    `json:"deleted"`
}

// Events publishes order lifecycle events. Publishing never blocks the
// pipeline and never fails it.
type Events interface {
	Publish(ctx context.Context, eventType, orderID string, payload any)
}

// NopEvents drops every event.
type NopEvents struct{}

func (NopEvents) Publish(context.Context, string, string, any) {}

// KafkaEvents writes envelopes keyed by order id so one order's events stay
// ordered within a partition.
type KafkaEvents struct {
	w        *kafka.Writer
	producer string
}

func NewKafkaEvents(brokers []string, topic, producer string) *KafkaEvents {
	return &KafkaEvents{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					slog.Error("order events write failed", "count", len(messages), "error", err)
				}
			},
		},
		producer: producer,
	}
}

func (k *KafkaEvents) Publish(ctx context.Context, eventType, orderID string, payload any) {
	msg, err := NewEnvelopeMessage(k.producer, eventType, orderID, payload)
	if err != nil {
		logger.Error(logger.WithOrder(ctx, orderID), "encode order event", "event_type", eventType, "error", err)
		return
	}
	// Async writer: errors surface through Completion.
	_ = k.w.WriteMessages(context.WithoutCancel(ctx), msg)
}

func (k *KafkaEvents) Close() error { return k.w.Close() }

// NewEnvelopeMessage builds the kafka message for one event.
func NewEnvelopeMessage(producer, eventType, orderID string, payload any) (kafka.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, err
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(orderID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}, nil
}
