package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/pkg/messaging"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

const DefaultRelayChannel = "notifier:relay"

// Relay forwards pushes between instances that share a broker. Only
// recipients that missed locally are published, and an instance ignores
// envelopes it published itself.
type Relay struct {
	broker   messaging.Broker
	registry *Registry
	channel  string
	origin   string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewRelay(broker messaging.Broker, registry *Registry, channel string, m *metrics.Metrics, logger zerolog.Logger) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Relay{
		broker:   broker,
		registry: registry,
		channel:  channel,
		origin:   uuid.NewString(),
		metrics:  m,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// Origin identifies this instance on the relay channel.
func (r *Relay) Origin() string { return r.origin }

// Publish sends msg for recipients to peer instances.
func (r *Relay) Publish(ctx context.Context, recipients []int64, msg model.PushMessage) error {
	if len(recipients) == 0 {
		return nil
	}
	env := model.RelayEnvelope{
		Origin:       r.origin,
		RecipientIDs: recipients,
		Message:      msg,
	}
	if err := r.broker.Publish(ctx, r.channel, env); err != nil {
		r.metrics.RelayPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish relay envelope: %w", err)
	}
	r.metrics.RelayPublished.WithLabelValues("success").Inc()
	return nil
}

// Run delivers envelopes from peers to local channels until ctx is done or
// the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	msgs, err := r.broker.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("subscribe relay channel: %w", err)
	}

	r.logger.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("relay subscribed")
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle(raw)
		}
	}
}

func (r *Relay) handle(raw []byte) {
	var env model.RelayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Warn().Err(err).Msg("dropping malformed relay envelope")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.metrics.RelayReceived.Inc()

	delivered := 0
	for _, id := range env.RecipientIDs {
		if r.registry.Push(id, env.Message) {
			delivered++
		}
	}
	r.logger.Debug().
		Int64("event_id", env.Message.EventID).
		Int("recipients", len(env.RecipientIDs)).
		Int("delivered", delivered).
		Msg("relay envelope delivered")
}
