package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mealkit/internal/cart"
	"github.com/noah-isme/backend-mealkit/internal/discount"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/shipping"
)

// ErrNoOrders is returned by latest-order lookups when nothing matches.
var ErrNoOrders = errors.New("order: no orders found")

// CartSummary is the projected pricing for one child's cart.
type CartSummary struct {
	ChildID  uuid.UUID
	CartID   uuid.UUID
	Eligible bool
	pricing.Summary
}

// CustomerSummary aggregates projected totals across a customer's carts.
type CustomerSummary struct {
	Carts    []CartSummary
	Subtotal pricing.Money
	Discount pricing.Money
	Shipping pricing.Money
	Total    pricing.Money
}

// Queries is the read surface: latest orders and what-if pricing
// summaries, without touching grants or orders.
type Queries struct {
	Orders    Store
	Carts     cart.Store
	Discounts discount.GrantStore
	Rates     shipping.Rates
}

// LatestForChild returns the child's most recent order.
func (q *Queries) LatestForChild(ctx context.Context, childID uuid.UUID) (*Order, error) {
	o, err := q.Orders.LatestForChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrNoOrders
	}
	return o, nil
}

// LatestForCustomer returns the customer's most recent order across all
// children.
func (q *Queries) LatestForCustomer(ctx context.Context, customerID uuid.UUID) (*Order, error) {
	o, err := q.Orders.LatestForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrNoOrders
	}
	return o, nil
}

// Summary prices every cart the customer owns at the default shipping
// rate. When codename names a discount, each cart that passes its rules
// is priced with the coupon applied; no grant is created. Tax is not
// quoted here, projected totals are pre-tax.
func (q *Queries) Summary(ctx context.Context, customerID uuid.UUID, codename string) (CustomerSummary, error) {
	var out CustomerSummary

	carts, err := q.Carts.ListByCustomer(ctx, customerID)
	if err != nil {
		return out, fmt.Errorf("list carts: %w", err)
	}
	rate, err := q.Rates.DefaultRate(ctx)
	if err != nil {
		return out, fmt.Errorf("default rate: %w", err)
	}

	var d *discount.Discount
	if codename != "" {
		found, err := q.Discounts.GetDiscountByCodename(ctx, codename)
		if err != nil {
			return out, fmt.Errorf("lookup discount %q: %w", codename, err)
		}
		d = &found
	}

	for i, crt := range carts {
		var coupon *pricing.Coupon
		eligible := false
		// Fixed-amount discounts only ever attach to the first cart,
		// matching how grants are scoped when the code is redeemed. A
		// later cart never inherits it, even when the first is ineligible.
		if d != nil && !(d.Kind == discount.KindFixedAmount && i > 0) {
			prior, err := q.Orders.CountForChild(ctx, crt.ChildID)
			if err != nil {
				return out, fmt.Errorf("count orders: %w", err)
			}
			res := discount.Evaluate(*d, discount.Candidate{Cart: crt, PriorOrderCount: prior})
			if res.Eligible {
				eligible = true
				coupon = d.Coupon()
			}
		}
		sum := pricing.Compute(crt.PricingItems(), coupon, rate.Price, 0)
		out.Carts = append(out.Carts, CartSummary{
			ChildID:  crt.ChildID,
			CartID:   crt.ID,
			Eligible: eligible,
			Summary:  sum,
		})
		out.Subtotal += sum.Subtotal
		out.Discount += sum.DiscountTotal
		out.Shipping += sum.Shipping
		out.Total += sum.Total
	}
	return out, nil
}
