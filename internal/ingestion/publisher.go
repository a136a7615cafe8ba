package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes processed operations to NATS for
// downstream consumers (the matching engine watches open orders this
// way). Operations are published after persistence is confirmed.
// Subjects follow the pattern: lend.ledger.events.{command_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableOperation
}

// PublishableOperation is a processed operation ready for outbound
// publishing.
type PublishableOperation struct {
	Sequence       int64       `json:"sequence"`
	CommandType    string      `json:"command_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Asset          *string     `json:"asset,omitempty"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableOperation) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case oper, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, oper); err != nil {
				natsLog.Warn().Err(err).Int64("sequence", oper.Sequence).Msg("outbound publish failed")
				// Non-fatal: downstream consumers can query the operation log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, oper PublishableOperation) error {
	data, err := json.Marshal(oper)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}

	// Build subject: lend.ledger.events.{command_type}.{asset}
	subject := fmt.Sprintf("lend.ledger.events.%s", oper.CommandType)
	if oper.Asset != nil {
		subject = fmt.Sprintf("%s.%s", subject, *oper.Asset)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEND_LEDGER_EVENTS",
		Subjects:  []string{"lend.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	natsLog.Info().Str("stream", "LEND_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
