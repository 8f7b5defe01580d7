package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// Order is the aggregate produced from a cart (or a due subscription) and
// driven through the payment lifecycle. Monetary fields are minor units.
type Order struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	ChildID    uuid.UUID
	CartID     uuid.UUID

	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	SyncStatus        SyncStatus
	EmailStatus       EmailStatus

	Subtotal       pricing.Money
	BulkDiscount   pricing.Money
	CouponDiscount pricing.Money
	DiscountTotal  pricing.Money
	Shipping       pricing.Money
	Tax            pricing.Money
	TaxRate        decimal.Decimal
	Total          pricing.Money

	ShippingRateID  uuid.UUID
	ShippingAddress uuid.UUID
	PaymentMethodID uuid.UUID
	GrantID         *uuid.UUID

	ChargeAttempts       int
	GatewayChargeRef     string
	ChargeFailureMessage string
	ChargedAmount        pricing.Money
	AmountRefunded       pricing.Money
	PartialRefundPending pricing.Money

	Tags []string

	PlacedAt    time.Time
	PaidAt      *time.Time
	RefundedAt  *time.Time
	CancelledAt *time.Time

	Items []LineItem
}

// LineItem is a snapshot of one cart row taken at order creation. Unit
// prices are frozen here so later catalog edits cannot change a placed
// order's totals.
type LineItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	VariantID uuid.UUID
	UnitPrice pricing.Money
	Quantity  int
	Kind      pricing.Kind
}

// Refundable is how much of the captured amount can still be refunded.
// Orders refunded before any capture fall back to the stamped total.
func (o *Order) Refundable() pricing.Money {
	base := o.ChargedAmount
	if base == 0 {
		base = o.Total
	}
	return base - o.AmountRefunded
}

// Servings sums recipe-kind line item quantities.
func (o *Order) Servings() int {
	n := 0
	for _, it := range o.Items {
		if it.Kind == pricing.KindRecipe {
			n += it.Quantity
		}
	}
	return n
}

// PricingItems converts the frozen line items back into pricing inputs.
func (o *Order) PricingItems() []pricing.Item {
	items := make([]pricing.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, pricing.Item{
			Qty:       it.Quantity,
			UnitPrice: it.UnitPrice,
			Kind:      it.Kind,
		})
	}
	return items
}

// Store is the persistence boundary for orders. Create and CreateLineItems
// are separate so the assembler can compensate when bulk insertion fails.
type Store interface {
	Create(ctx context.Context, o *Order) error
	CreateLineItems(ctx context.Context, items []LineItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	Update(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	LatestForChild(ctx context.Context, childID uuid.UUID) (*Order, error)
	LatestForCustomer(ctx context.Context, customerID uuid.UUID) (*Order, error)
	CountForChild(ctx context.Context, childID uuid.UUID) (int, error)
	ListPendingCharges(ctx context.Context, limit int) ([]*Order, error)
	ListOverAttemptCeiling(ctx context.Context, ceiling int) ([]*Order, error)
}
