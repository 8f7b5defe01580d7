package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-mealkit/internal/cart"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

const getCartByChildSQL = `SELECT id, customer_id, child_id FROM carts WHERE child_id = $1`

const listCartsByCustomerSQL = `SELECT id, customer_id, child_id FROM carts
	WHERE customer_id = $1 ORDER BY created_at`

const getCartItemsSQL = `SELECT id, product_id, variant_id, unit_price, quantity, kind, recurring
	FROM cart_items WHERE cart_id = $1 ORDER BY id`

const removeOneTimeItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND NOT recurring`

var _ cart.Store = (*CartRepository)(nil)

// CartRepository implements cart.Store backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository using the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetByChild loads the child's cart with its items.
func (r *CartRepository) GetByChild(ctx context.Context, childID uuid.UUID) (cart.Cart, error) {
	var c cart.Cart
	err := r.pool.QueryRow(ctx, getCartByChildSQL, childID).Scan(&c.ID, &c.CustomerID, &c.ChildID)
	if err != nil {
		return cart.Cart{}, fmt.Errorf("querying cart for child %s: %w", childID, err)
	}
	if err := r.loadItems(ctx, &c); err != nil {
		return cart.Cart{}, err
	}
	return c, nil
}

// ListByCustomer loads every cart the customer's children own.
func (r *CartRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]cart.Cart, error) {
	rows, err := r.pool.Query(ctx, listCartsByCustomerSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("querying carts for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	var out []cart.Cart
	for rows.Next() {
		var c cart.Cart
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.ChildID); err != nil {
			return nil, fmt.Errorf("scanning cart: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadItems(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RemoveOneTimeItems deletes non-recurring rows after a recurring order
// has been placed from the cart.
func (r *CartRepository) RemoveOneTimeItems(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, removeOneTimeItemsSQL, cartID)
	if err != nil {
		return fmt.Errorf("removing one-time items from cart %s: %w", cartID, err)
	}
	return nil
}

func (r *CartRepository) loadItems(ctx context.Context, c *cart.Cart) error {
	rows, err := r.pool.Query(ctx, getCartItemsSQL, c.ID)
	if err != nil {
		return fmt.Errorf("querying items for cart %s: %w", c.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it cart.Item
		var kind string
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID,
			&it.UnitPrice, &it.Quantity, &kind, &it.Recurring); err != nil {
			return fmt.Errorf("scanning cart item: %w", err)
		}
		it.Kind = kindFromString(kind)
		c.Items = append(c.Items, it)
	}
	return rows.Err()
}

func kindFromString(kind string) pricing.Kind {
	switch pricing.Kind(kind) {
	case pricing.KindRecipe, pricing.KindAddOn, pricing.KindOther:
		return pricing.Kind(kind)
	default:
		return pricing.KindOther
	}
}
