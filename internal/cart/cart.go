package cart

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// Item is a line in a cart. Recurring items survive order placement;
// one-time items are cleared once a recurring order has been built from
// the cart.
type Item struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	VariantID uuid.UUID
	UnitPrice pricing.Money
	Quantity  int
	Kind      pricing.Kind
	Recurring bool
}

// Cart is the mutable working set of items for one (customer, child)
// pair. There is exactly one active cart per child; it is created with
// the child profile and never deleted while the child exists.
type Cart struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	ChildID    uuid.UUID
	Items      []Item
}

// Subtotal sums unit price times quantity across all items.
func (c Cart) Subtotal() pricing.Money {
	var total pricing.Money
	for _, it := range c.Items {
		if it.Quantity <= 0 {
			continue
		}
		total += pricing.Money(it.Quantity) * it.UnitPrice
	}
	return total
}

// PricingItems converts the cart contents into calculator input.
func (c Cart) PricingItems() []pricing.Item {
	out := make([]pricing.Item, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, pricing.Item{Qty: it.Quantity, UnitPrice: it.UnitPrice, Kind: it.Kind})
	}
	return out
}

// Quantity reports the combined quantity across all cart items.
func (c Cart) Quantity() int {
	return pricing.Quantity(c.PricingItems())
}

// ContainsProduct reports whether any item sells one of the given products.
func (c Cart) ContainsProduct(productIDs []uuid.UUID) bool {
	for _, it := range c.Items {
		for _, id := range productIDs {
			if it.ProductID == id {
				return true
			}
		}
	}
	return false
}

// Store is the persistence surface the core needs for carts. Cart
// mutation itself belongs to the consuming storefront.
type Store interface {
	GetByChild(ctx context.Context, childID uuid.UUID) (Cart, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Cart, error)
	RemoveOneTimeItems(ctx context.Context, cartID uuid.UUID) error
}
