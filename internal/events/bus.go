package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/obs"
)

// Effect is a side effect produced by a state-machine transition. The
// transition itself stays pure: it returns effects and the caller
// dispatches them only after the underlying write has committed.
type Effect struct {
	Topic       string
	AggregateID uuid.UUID
	Payload     map[string]any
}

// Store defines the persistence operations required by the bus.
type Store interface {
	InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) error
}

// Notifier reacts to dispatched effects (analytics forwarding, email,
// grant redemption). Delivery is at-least-once; notifiers must be
// idempotent against repeats.
type Notifier interface {
	Notify(ctx context.Context, effect Effect) error
}

// Bus persists effects as domain events and fans them out to the
// registered notifiers.
type Bus struct {
	Store     Store
	Notifiers []Notifier
	Logger    zerolog.Logger
}

// Dispatch records each effect and hands it to every notifier. Notifier
// failures are joined and returned but do not stop the remaining
// effects; a dropped delivery is recoverable by replay, a silently
// skipped one is not.
func (b *Bus) Dispatch(ctx context.Context, effects []Effect) error {
	if b == nil {
		return errors.New("events: bus not configured")
	}
	var joined error
	for _, effect := range effects {
		if err := b.dispatchOne(ctx, effect); err != nil {
			b.Logger.Error().Err(err).Str("topic", effect.Topic).
				Str("aggregate_id", effect.AggregateID.String()).
				Msg("dispatch effect")
			countDispatch(effect.Topic, "error")
			joined = errors.Join(joined, err)
			continue
		}
		countDispatch(effect.Topic, "ok")
	}
	return joined
}

func countDispatch(topic, result string) {
	if obs.EffectDispatchTotal != nil {
		obs.EffectDispatchTotal.WithLabelValues(topic, result).Inc()
	}
}

func (b *Bus) dispatchOne(ctx context.Context, effect Effect) error {
	topic := strings.TrimSpace(effect.Topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	if effect.AggregateID == uuid.Nil {
		return errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(effect.Payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	if b.Store != nil {
		if err := b.Store.InsertDomainEvent(ctx, topic, effect.AggregateID, encoded); err != nil {
			return fmt.Errorf("events: persist event: %w", err)
		}
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, effect); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return joined
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if len(payload) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(payload)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, effect Effect) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, effect Effect) error {
	return f(ctx, effect)
}
