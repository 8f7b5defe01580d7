package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/cart"
	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/discount"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/shipping"
	"github.com/noah-isme/backend-mealkit/internal/tax"
)

// Validation failures found before any row is written. Each names the
// input the caller must fix.
var (
	ErrMissingCustomer           = errors.New("order: customer not found")
	ErrEmptyCart                 = errors.New("order: cart has no chargeable items")
	ErrMissingPaymentMethod      = errors.New("order: no chargeable payment method on file")
	ErrIncompleteShippingAddress = errors.New("order: shipping address is incomplete")
)

// ErrOrderAssembly wraps a persistence failure that occurred after the
// order row was created. The order row has been deleted by the time the
// caller sees this.
type ErrOrderAssembly struct {
	OrderID uuid.UUID
	Err     error
}

func (e *ErrOrderAssembly) Error() string {
	return fmt.Sprintf("order: assembling %s: %v", e.OrderID, e.Err)
}

func (e *ErrOrderAssembly) Unwrap() error { return e.Err }

// BuildInput is the fully resolved material for one order. BuildFromCart
// and BuildFromSubscription derive it; Build only validates and writes.
type BuildInput struct {
	Cart          cart.Cart
	Customer      customer.Customer
	Address       customer.Address
	PaymentMethod customer.PaymentMethod
	Rate          shipping.Rate
	Grant         *discount.Grant
	Discount      *discount.Discount
	Tags          []string
}

// Assembler turns carts into orders: validate, persist the order row and
// its line items all-or-nothing, then stamp calculator totals.
type Assembler struct {
	Orders    Store
	Carts     cart.Store
	Customers customer.Store
	Grants    discount.GrantStore
	Rates     shipping.Rates
	Tax       tax.Calculator
	Now       func() time.Time
	Logger    zerolog.Logger
}

func (a *Assembler) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// Build validates the input, creates the order and its line items, and
// stamps totals. If line-item insertion fails the order row is deleted
// and an ErrOrderAssembly is returned, so no half-assembled order is
// ever observable.
func (a *Assembler) Build(ctx context.Context, in BuildInput) (*Order, error) {
	if in.Customer.ID == uuid.Nil {
		return nil, ErrMissingCustomer
	}
	if pricing.Quantity(in.Cart.PricingItems()) == 0 {
		return nil, ErrEmptyCart
	}
	if !in.PaymentMethod.IsValid || !in.PaymentMethod.SetupForFutureCharges {
		return nil, ErrMissingPaymentMethod
	}
	if !in.Address.Complete() {
		return nil, ErrIncompleteShippingAddress
	}

	o := &Order{
		ID:                uuid.New(),
		CustomerID:        in.Customer.ID,
		ChildID:           in.Cart.ChildID,
		CartID:            in.Cart.ID,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentPending,
		SyncStatus:        SyncPending,
		EmailStatus:       EmailUnsent,
		ShippingRateID:    in.Rate.ID,
		ShippingAddress:   in.Address.ID,
		PaymentMethodID:   in.PaymentMethod.ID,
		Tags:              in.Tags,
		PlacedAt:          a.now(),
	}
	if in.Grant != nil && in.Grant.IsActive {
		id := in.Grant.ID
		o.GrantID = &id
	}
	items := make([]LineItem, 0, len(in.Cart.Items))
	for _, ci := range in.Cart.Items {
		items = append(items, LineItem{
			ID:        uuid.New(),
			OrderID:   o.ID,
			ProductID: ci.ProductID,
			VariantID: ci.VariantID,
			UnitPrice: ci.UnitPrice,
			Quantity:  ci.Quantity,
			Kind:      ci.Kind,
		})
	}

	if err := a.Orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if err := a.Orders.CreateLineItems(ctx, items); err != nil {
		if delErr := a.Orders.Delete(ctx, o.ID); delErr != nil {
			a.Logger.Error().Err(delErr).
				Str("order_id", o.ID.String()).
				Msg("compensating order delete failed")
		}
		return nil, &ErrOrderAssembly{OrderID: o.ID, Err: err}
	}
	o.Items = items

	if err := a.stampTotals(ctx, o, in); err != nil {
		if delErr := a.Orders.Delete(ctx, o.ID); delErr != nil {
			a.Logger.Error().Err(delErr).
				Str("order_id", o.ID.String()).
				Msg("compensating order delete failed")
		}
		return nil, &ErrOrderAssembly{OrderID: o.ID, Err: err}
	}
	return o, nil
}

func (a *Assembler) stampTotals(ctx context.Context, o *Order, in BuildInput) error {
	// An exhausted grant may still arrive here when the caller resolved
	// it before a competing redemption landed; it prices as no coupon.
	var coupon *pricing.Coupon
	if in.Discount != nil && in.Grant != nil && in.Grant.IsActive {
		coupon = in.Discount.Coupon()
	}
	pre := pricing.Compute(o.PricingItems(), coupon, in.Rate.Price, 0)
	quote, err := a.Tax.Quote(ctx, tax.QuoteInput{
		CustomerID: o.CustomerID,
		Subtotal:   pre.Subtotal - pre.DiscountTotal,
		Shipping:   in.Rate.Price,
		Street:     in.Address.Street,
		City:       in.Address.City,
		State:      in.Address.State,
		Zip:        in.Address.Zip,
	})
	if err != nil {
		return fmt.Errorf("tax quote: %w", err)
	}
	sum := pricing.Compute(o.PricingItems(), coupon, in.Rate.Price, quote.TotalTax)
	o.Subtotal = sum.Subtotal
	o.BulkDiscount = sum.BulkDiscount
	o.CouponDiscount = sum.CouponDiscount
	o.DiscountTotal = sum.DiscountTotal
	o.Shipping = sum.Shipping
	o.Tax = sum.Tax
	o.TaxRate = quote.TaxRate
	o.Total = sum.Total
	return a.Orders.Update(ctx, o)
}

// BuildFromCart resolves a customer's order material on demand: the
// child's cart, the most recent chargeable payment method, the first
// address on file, the child's active unredeemed grant if any, and the
// default shipping rate.
func (a *Assembler) BuildFromCart(ctx context.Context, customerID, childID uuid.UUID, tags []string) (*Order, error) {
	cust, err := a.Customers.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, ErrMissingCustomer
	}
	crt, err := a.Carts.GetByChild(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	pm, err := a.Customers.LatestChargeablePaymentMethod(ctx, customerID)
	if err != nil {
		return nil, ErrMissingPaymentMethod
	}
	addr, err := a.Customers.FirstAddress(ctx, customerID)
	if err != nil {
		return nil, ErrIncompleteShippingAddress
	}
	rate, err := a.Rates.DefaultRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("default rate: %w", err)
	}

	in := BuildInput{
		Cart:          crt,
		Customer:      cust,
		Address:       addr,
		PaymentMethod: pm,
		Rate:          rate,
		Tags:          tags,
	}
	grant, err := a.Grants.ActiveGrantForChild(ctx, customerID, childID)
	switch {
	case err == nil:
		d, derr := a.Grants.GetDiscount(ctx, grant.DiscountID)
		if derr != nil {
			return nil, fmt.Errorf("load granted discount: %w", derr)
		}
		in.Grant = &grant
		in.Discount = &d
	case errors.Is(err, discount.ErrNoGrant):
		// priced without a coupon
	default:
		return nil, fmt.Errorf("lookup grant: %w", err)
	}
	return a.Build(ctx, in)
}

// BuildFromSubscription places the recurring order for a due
// subscription, then clears one-time items from the cart so only
// recurring items survive to the next cycle.
func (a *Assembler) BuildFromSubscription(ctx context.Context, sub customer.Subscription) (*Order, error) {
	child, err := a.Customers.GetChild(ctx, sub.ChildID)
	if err != nil {
		return nil, fmt.Errorf("load child: %w", err)
	}
	o, err := a.BuildFromCart(ctx, child.ParentID, child.ID, []string{"recurring"})
	if err != nil {
		return nil, err
	}
	if err := a.Carts.RemoveOneTimeItems(ctx, o.CartID); err != nil {
		a.Logger.Error().Err(err).
			Str("cart_id", o.CartID.String()).
			Msg("clearing one-time cart items failed")
	}
	return o, nil
}
