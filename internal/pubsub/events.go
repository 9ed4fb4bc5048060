package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Payment event types.
const (
	EventChargeCreated = "charge_created"
	EventChargeResumed = "charge_resumed"
	EventQRConfirmed   = "qr_confirmed"
	EventQRDiscarded   = "qr_discarded"
	EventFreeClaimed   = "free_pages_claimed"
)

// PaymentEvent is published whenever the dashboard observes a payment or
// claim milestone. Downstream consumers use it for analytics only; the
// backend stays authoritative for balances.
type PaymentEvent struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id,omitempty"`
	ChargeID       string    `json:"charge_id,omitempty"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	AmountTHB      int       `json:"amount_thb,omitempty"`
	Pages          int       `json:"pages,omitempty"`
	ActionRequired string    `json:"action_required,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventSink receives dashboard events.
type EventSink interface {
	PublishPaymentEvent(ctx context.Context, ev PaymentEvent) error
}

// NopSink drops every event. It is used when no topic is configured.
type NopSink struct{}

func (NopSink) PublishPaymentEvent(context.Context, PaymentEvent) error { return nil }

// TopicSink encodes events as JSON and publishes them to one topic.
type TopicSink struct {
	publisher Publisher
	topic     string
	logger    zerolog.Logger
}

func NewTopicSink(publisher Publisher, topic string, logger zerolog.Logger) *TopicSink {
	return &TopicSink{
		publisher: publisher,
		topic:     topic,
		logger:    logger.With().Str("service", "PaymentEvents").Logger(),
	}
}

func (s *TopicSink) PublishPaymentEvent(ctx context.Context, ev PaymentEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode payment event: %w", err)
	}
	id, err := s.publisher.Publish(ctx, s.topic, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", ev.Type).Str("charge_id", ev.ChargeID).Msg("Failed to publish payment event")
		return err
	}
	s.logger.Debug().Str("type", ev.Type).Str("message_id", id).Msg("Published payment event")
	return nil
}
