package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LoopVault/internal/engine"
	"LoopVault/internal/observability"
)

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// Publisher relays engine events to NATS JetStream for downstream consumers.
// Subjects follow the pattern: loopvault.events.{event_type}.{owner_id}
//
// The engine sends on its publish channel without blocking, so a slow or
// disconnected broker drops events rather than stalling operations. The
// persisted event log remains the source of truth.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan engine.EngineOutput
	metrics *observability.Metrics
	log     zerolog.Logger
}

// outboundEvent is the wire shape published to JetStream.
type outboundEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	OwnerID        *string         `json:"owner_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewPublisher(
	js jetstream.JetStream,
	input <-chan engine.EngineOutput,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Publisher {
	return &Publisher{js: js, input: input, metrics: metrics, log: log}
}

// Run drains the publish channel until ctx is cancelled or the channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-p.input:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, output); err != nil {
				// Non-fatal: consumers can replay from the event log
				p.log.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, output engine.EngineOutput) error {
	env := output.Envelope

	var ownerID *string
	if env.Owner != nil {
		s := env.Owner.String()
		ownerID = &s
	}

	data, err := json.Marshal(outboundEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		OwnerID:        ownerID,
		Payload:        env.Payload,
		Timestamp:      env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("loopvault.events.%s", env.EventType)
	if ownerID != nil {
		subject = fmt.Sprintf("%s.%s", subject, *ownerID)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return err
	}
	return nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LOOPVAULT_EVENTS",
		Subjects:  []string{"loopvault.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "LOOPVAULT_EVENTS").Msg("ensured outbound stream")
	return nil
}
