package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-mealkit/internal/shipping"
)

const defaultRateSQL = `SELECT id, name, price, is_default FROM shipping_rates
	WHERE is_default LIMIT 1`

const getRateSQL = `SELECT id, name, price, is_default FROM shipping_rates WHERE id = $1`

var _ shipping.Rates = (*ShippingRepository)(nil)

// ShippingRepository implements shipping.Rates backed by PostgreSQL.
type ShippingRepository struct {
	pool *pgxpool.Pool
}

// NewShippingRepository returns a ShippingRepository using the given pool.
func NewShippingRepository(pool *pgxpool.Pool) *ShippingRepository {
	return &ShippingRepository{pool: pool}
}

func (r *ShippingRepository) DefaultRate(ctx context.Context) (shipping.Rate, error) {
	rate, err := r.scanRate(ctx, defaultRateSQL)
	if errors.Is(err, pgx.ErrNoRows) {
		return shipping.Rate{}, shipping.ErrNoDefaultRate
	}
	return rate, err
}

func (r *ShippingRepository) GetRate(ctx context.Context, id uuid.UUID) (shipping.Rate, error) {
	return r.scanRate(ctx, getRateSQL, id)
}

func (r *ShippingRepository) scanRate(ctx context.Context, sql string, args ...any) (shipping.Rate, error) {
	var rate shipping.Rate
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&rate.ID, &rate.Name, &rate.Price, &rate.IsDefault)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shipping.Rate{}, err
		}
		return shipping.Rate{}, fmt.Errorf("querying shipping rate: %w", err)
	}
	return rate, nil
}
