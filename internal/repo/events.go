package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-mealkit/internal/events"
)

const insertDomainEventSQL = `INSERT INTO domain_events (id, topic, aggregate_id, payload)
	VALUES ($1, $2, $3, $4)`

var _ events.Store = (*EventRepository)(nil)

// EventRepository persists dispatched effects as domain events.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository returns an EventRepository using the given pool.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) error {
	_, err := r.pool.Exec(ctx, insertDomainEventSQL, uuid.New(), topic, aggregateID, payload)
	if err != nil {
		return fmt.Errorf("inserting domain event %s: %w", topic, err)
	}
	return nil
}
