package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-mealkit/internal/customer"
)

const getCustomerSQL = `SELECT id, email, gateway_customer_ref FROM customers WHERE id = $1`

const getChildSQL = `SELECT id, parent_id, name FROM children WHERE id = $1`

const firstAddressSQL = `SELECT id, street, city, state, zip FROM addresses
	WHERE customer_id = $1 ORDER BY created_at ASC LIMIT 1`

const getAddressSQL = `SELECT id, street, city, state, zip FROM addresses WHERE id = $1`

const latestChargeableMethodSQL = `SELECT id, customer_id, gateway_token, last_four,
	is_valid, setup_for_future_charges, created_at
	FROM payment_methods
	WHERE customer_id = $1 AND is_valid AND setup_for_future_charges
	ORDER BY created_at DESC LIMIT 1`

const getPaymentMethodSQL = `SELECT id, customer_id, gateway_token, last_four,
	is_valid, setup_for_future_charges, created_at
	FROM payment_methods WHERE id = $1`

const getSubscriptionSQL = `SELECT id, child_id, is_active, next_order_charge_date, interval_days
	FROM subscriptions WHERE id = $1`

const listDueSubscriptionsSQL = `SELECT id, child_id, is_active, next_order_charge_date, interval_days
	FROM subscriptions
	WHERE is_active AND next_order_charge_date <= $1
	ORDER BY next_order_charge_date ASC LIMIT $2`

const updateSubscriptionDatesSQL = `UPDATE subscriptions
	SET next_order_charge_date = $2 WHERE id = $1`

var (
	_ customer.Store             = (*CustomerRepository)(nil)
	_ customer.SubscriptionStore = (*CustomerRepository)(nil)
)

// CustomerRepository implements the customer read surfaces backed by
// PostgreSQL. Customer records are owned by an external system; this
// repository only reads them, except for subscription date advancement.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository using the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) GetCustomer(ctx context.Context, id uuid.UUID) (customer.Customer, error) {
	var c customer.Customer
	err := r.pool.QueryRow(ctx, getCustomerSQL, id).Scan(&c.ID, &c.Email, &c.GatewayCustomerRef)
	if err != nil {
		return customer.Customer{}, fmt.Errorf("querying customer %s: %w", id, err)
	}
	return c, nil
}

func (r *CustomerRepository) GetChild(ctx context.Context, id uuid.UUID) (customer.Child, error) {
	var c customer.Child
	err := r.pool.QueryRow(ctx, getChildSQL, id).Scan(&c.ID, &c.ParentID, &c.Name)
	if err != nil {
		return customer.Child{}, fmt.Errorf("querying child %s: %w", id, err)
	}
	return c, nil
}

func (r *CustomerRepository) FirstAddress(ctx context.Context, customerID uuid.UUID) (customer.Address, error) {
	var a customer.Address
	err := r.pool.QueryRow(ctx, firstAddressSQL, customerID).Scan(&a.ID, &a.Street, &a.City, &a.State, &a.Zip)
	if err != nil {
		return customer.Address{}, fmt.Errorf("querying first address for %s: %w", customerID, err)
	}
	return a, nil
}

func (r *CustomerRepository) GetAddress(ctx context.Context, id uuid.UUID) (customer.Address, error) {
	var a customer.Address
	err := r.pool.QueryRow(ctx, getAddressSQL, id).Scan(&a.ID, &a.Street, &a.City, &a.State, &a.Zip)
	if err != nil {
		return customer.Address{}, fmt.Errorf("querying address %s: %w", id, err)
	}
	return a, nil
}

func (r *CustomerRepository) LatestChargeablePaymentMethod(ctx context.Context, customerID uuid.UUID) (customer.PaymentMethod, error) {
	return r.scanMethod(ctx, latestChargeableMethodSQL, customerID)
}

func (r *CustomerRepository) GetPaymentMethod(ctx context.Context, id uuid.UUID) (customer.PaymentMethod, error) {
	return r.scanMethod(ctx, getPaymentMethodSQL, id)
}

func (r *CustomerRepository) scanMethod(ctx context.Context, sql string, arg any) (customer.PaymentMethod, error) {
	var pm customer.PaymentMethod
	err := r.pool.QueryRow(ctx, sql, arg).Scan(&pm.ID, &pm.CustomerID, &pm.GatewayToken,
		&pm.LastFour, &pm.IsValid, &pm.SetupForFutureCharges, &pm.CreatedAt)
	if err != nil {
		return customer.PaymentMethod{}, fmt.Errorf("querying payment method: %w", err)
	}
	return pm, nil
}

func (r *CustomerRepository) GetSubscription(ctx context.Context, id uuid.UUID) (customer.Subscription, error) {
	var s customer.Subscription
	err := r.pool.QueryRow(ctx, getSubscriptionSQL, id).Scan(&s.ID, &s.ChildID,
		&s.IsActive, &s.NextOrderChargeDate, &s.IntervalDays)
	if err != nil {
		return customer.Subscription{}, fmt.Errorf("querying subscription %s: %w", id, err)
	}
	return s, nil
}

// ListDueSubscriptions returns active subscriptions whose next charge
// date falls on or before day.
func (r *CustomerRepository) ListDueSubscriptions(ctx context.Context, day time.Time, limit int) ([]customer.Subscription, error) {
	rows, err := r.pool.Query(ctx, listDueSubscriptionsSQL, day, limit)
	if err != nil {
		return nil, fmt.Errorf("querying due subscriptions: %w", err)
	}
	defer rows.Close()

	var out []customer.Subscription
	for rows.Next() {
		var s customer.Subscription
		if err := rows.Scan(&s.ID, &s.ChildID, &s.IsActive, &s.NextOrderChargeDate, &s.IntervalDays); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CustomerRepository) UpdateSubscriptionDates(ctx context.Context, sub customer.Subscription) error {
	tag, err := r.pool.Exec(ctx, updateSubscriptionDatesSQL, sub.ID, sub.NextOrderChargeDate)
	if err != nil {
		return fmt.Errorf("updating subscription %s: %w", sub.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating subscription %s: not found", sub.ID)
	}
	return nil
}
