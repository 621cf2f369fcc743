package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"CoffeeClear/internal/core"
)

// OutboundPublisher publishes applied events to NATS for downstream
// consumers (risk dashboards, custody reconciliation, notification
// services). Subjects follow coffee.clearing.events.{token}.{market_id}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	log       zerolog.Logger
}

// outboundEventJSON is the wire envelope for downstream consumers.
type outboundEventJSON struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       string          `json:"market_id,omitempty"`
	DealID         string          `json:"deal_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				// non-fatal: consumers can replay from the event log
				op.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope

	wire := outboundEventJSON{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
	if env.MarketID != uuid.Nil {
		wire.MarketID = env.MarketID.String()
	}
	if env.DealID != uuid.Nil {
		wire.DealID = env.DealID.String()
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("coffee.clearing.events.%s", env.EventType.Subject())
	if env.MarketID != uuid.Nil {
		subject = fmt.Sprintf("%s.%s", subject, env.MarketID)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "COFFEE_CLEARING_EVENTS",
		Subjects:  []string{"coffee.clearing.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Msg("ensured outbound stream COFFEE_CLEARING_EVENTS")
	return nil
}
