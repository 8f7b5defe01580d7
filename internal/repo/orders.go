package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-mealkit/internal/order"
)

const orderColumns = `id, customer_id, child_id, cart_id,
	payment_status, fulfillment_status, sync_status, email_status,
	subtotal, bulk_discount, coupon_discount, discount_total, shipping, tax, tax_rate, total,
	shipping_rate_id, shipping_address_id, payment_method_id, grant_id,
	charge_attempts, gateway_charge_ref, charge_failure_message,
	charged_amount, amount_refunded, partial_refund_pending, tags,
	placed_at, paid_at, refunded_at, cancelled_at`

const createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
	        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`

const updateOrderSQL = `UPDATE orders SET
	payment_status = $2, fulfillment_status = $3, sync_status = $4, email_status = $5,
	subtotal = $6, bulk_discount = $7, coupon_discount = $8, discount_total = $9,
	shipping = $10, tax = $11, tax_rate = $12, total = $13,
	grant_id = $14, charge_attempts = $15, gateway_charge_ref = $16,
	charge_failure_message = $17, charged_amount = $18, amount_refunded = $19,
	partial_refund_pending = $20, tags = $21, paid_at = $22, refunded_at = $23,
	cancelled_at = $24
	WHERE id = $1`

const getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

const latestOrderForChildSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE child_id = $1 ORDER BY placed_at DESC LIMIT 1`

const latestOrderForCustomerSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE customer_id = $1 ORDER BY placed_at DESC LIMIT 1`

const countOrdersForChildSQL = `SELECT count(*) FROM orders WHERE child_id = $1`

const listPendingChargesSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE payment_status = 'pending' AND fulfillment_status <> 'cancelled'
	ORDER BY placed_at ASC LIMIT $1`

const listOverCeilingSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE payment_status = 'pending' AND charge_attempts >= $1
	ORDER BY placed_at ASC`

const deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

const getLineItemsSQL = `SELECT id, order_id, product_id, variant_id, unit_price, quantity, kind
	FROM order_line_items WHERE order_id = $1 ORDER BY id`

var _ order.Store = (*OrderRepository)(nil)

// OrderRepository implements order.Store backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository using the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order row without its line items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, createOrderSQL, orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("creating order %s: %w", o.ID, err)
	}
	return nil
}

// CreateLineItems bulk-inserts the order's snapshot rows.
func (r *OrderRepository) CreateLineItems(ctx context.Context, items []order.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, []any{
			it.ID, it.OrderID, it.ProductID, it.VariantID,
			it.UnitPrice, it.Quantity, string(it.Kind),
		})
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"order_line_items"},
		[]string{"id", "order_id", "product_id", "variant_id", "unit_price", "quantity", "kind"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("inserting %d line items: %w", len(items), err)
	}
	return nil
}

// Delete removes an order and, via cascade, its line items.
func (r *OrderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %s: %w", id, err)
	}
	return nil
}

// Update persists the mutable order state.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	args := append([]any{o.ID},
		string(o.PaymentStatus), string(o.FulfillmentStatus), string(o.SyncStatus), string(o.EmailStatus),
		o.Subtotal, o.BulkDiscount, o.CouponDiscount, o.DiscountTotal,
		o.Shipping, o.Tax, o.TaxRate, o.Total,
		o.GrantID, o.ChargeAttempts, o.GatewayChargeRef,
		o.ChargeFailureMessage, o.ChargedAmount, o.AmountRefunded, o.PartialRefundPending,
		o.Tags, o.PaidAt, o.RefundedAt, o.CancelledAt,
	)
	tag, err := r.pool.Exec(ctx, updateOrderSQL, args...)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating order %s: not found", o.ID)
	}
	return nil
}

// Get loads an order with its line items.
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := r.scanOne(ctx, getOrderSQL, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %s: %w", id, pgx.ErrNoRows)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// LatestForChild returns the child's newest order, or nil.
func (r *OrderRepository) LatestForChild(ctx context.Context, childID uuid.UUID) (*order.Order, error) {
	o, err := r.scanOne(ctx, latestOrderForChildSQL, childID)
	if err != nil || o == nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// LatestForCustomer returns the customer's newest order, or nil.
func (r *OrderRepository) LatestForCustomer(ctx context.Context, customerID uuid.UUID) (*order.Order, error) {
	o, err := r.scanOne(ctx, latestOrderForCustomerSQL, customerID)
	if err != nil || o == nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// CountForChild counts all orders ever placed for the child.
func (r *OrderRepository) CountForChild(ctx context.Context, childID uuid.UUID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countOrdersForChildSQL, childID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders for child %s: %w", childID, err)
	}
	return n, nil
}

// CountOrdersForChild counts all orders ever placed for the child.
func (r *OrderRepository) CountOrdersForChild(ctx context.Context, childID uuid.UUID) (int, error) {
	return r.CountForChild(ctx, childID)
}

// ListPendingCharges returns up to limit uncharged orders, oldest first.
func (r *OrderRepository) ListPendingCharges(ctx context.Context, limit int) ([]*order.Order, error) {
	return r.scanMany(ctx, listPendingChargesSQL, limit)
}

// ListOverAttemptCeiling returns pending orders whose attempt counter
// has reached the ceiling.
func (r *OrderRepository) ListOverAttemptCeiling(ctx context.Context, ceiling int) ([]*order.Order, error) {
	return r.scanMany(ctx, listOverCeilingSQL, ceiling)
}

func (r *OrderRepository) scanOne(ctx context.Context, sql string, arg any) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, sql, arg).Scan(scanTargets(&o)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying order: %w", err)
	}
	return &o, nil
}

func (r *OrderRepository) scanMany(ctx context.Context, sql string, arg any) ([]*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(scanTargets(&o)...); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (r *OrderRepository) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, getLineItemsSQL, o.ID)
	if err != nil {
		return fmt.Errorf("querying line items for %s: %w", o.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it order.LineItem
		var kind string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID,
			&it.UnitPrice, &it.Quantity, &kind); err != nil {
			return fmt.Errorf("scanning line item: %w", err)
		}
		it.Kind = kindFromString(kind)
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func orderArgs(o *order.Order) []any {
	return []any{
		o.ID, o.CustomerID, o.ChildID, o.CartID,
		string(o.PaymentStatus), string(o.FulfillmentStatus), string(o.SyncStatus), string(o.EmailStatus),
		o.Subtotal, o.BulkDiscount, o.CouponDiscount, o.DiscountTotal,
		o.Shipping, o.Tax, o.TaxRate, o.Total,
		o.ShippingRateID, o.ShippingAddress, o.PaymentMethodID, o.GrantID,
		o.ChargeAttempts, o.GatewayChargeRef, o.ChargeFailureMessage,
		o.ChargedAmount, o.AmountRefunded, o.PartialRefundPending, o.Tags,
		o.PlacedAt, o.PaidAt, o.RefundedAt, o.CancelledAt,
	}
}

func scanTargets(o *order.Order) []any {
	return []any{
		&o.ID, &o.CustomerID, &o.ChildID, &o.CartID,
		&o.PaymentStatus, &o.FulfillmentStatus, &o.SyncStatus, &o.EmailStatus,
		&o.Subtotal, &o.BulkDiscount, &o.CouponDiscount, &o.DiscountTotal,
		&o.Shipping, &o.Tax, &o.TaxRate, &o.Total,
		&o.ShippingRateID, &o.ShippingAddress, &o.PaymentMethodID, &o.GrantID,
		&o.ChargeAttempts, &o.GatewayChargeRef, &o.ChargeFailureMessage,
		&o.ChargedAmount, &o.AmountRefunded, &o.PartialRefundPending, &o.Tags,
		&o.PlacedAt, &o.PaidAt, &o.RefundedAt, &o.CancelledAt,
	}
}
