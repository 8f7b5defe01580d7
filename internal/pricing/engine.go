package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Kind identifies what a line item sells.
type Kind string

const (
	KindRecipe Kind = "recipe"
	KindAddOn  Kind = "add-on"
	KindOther  Kind = "other"
)

// BulkPackThreshold is the recipe-serving count at which the automatic
// bulk discount kicks in.
const BulkPackThreshold = 24

// BulkPackDiscount is the flat deduction applied to qualifying carts.
// It applies at most once regardless of how far past the threshold the
// serving count goes.
const BulkPackDiscount = Money(2000)

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
	Kind      Kind
}

// Coupon is the discount applied on top of the automatic bulk discount.
// For a percentage coupon Amount is whole percent off the running
// subtotal; for a fixed coupon it is the deduction in minor units.
type Coupon struct {
	Percentage bool
	Amount     Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal       Money
	BulkDiscount   Money
	CouponDiscount Money
	DiscountTotal  Money
	Shipping       Money
	Tax            Money
	Total          Money
}

// Compute calculates order totals given the provided inputs. The step
// order is fixed: each discount applies to the running subtotal left by
// the previous one. Tax is computed upstream and passed in as a value;
// no discount changes it. The total is intentionally not clamped at
// zero, matching the billing semantics this engine replicates.
func Compute(items []Item, coupon *Coupon, shipping Money, tax Money) Summary {
	var subtotal Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	running := subtotal

	var bulk Money
	if Servings(items) >= BulkPackThreshold {
		bulk = BulkPackDiscount
		running -= bulk
	}

	var couponAmount Money
	if coupon != nil {
		if coupon.Percentage {
			couponAmount = (running * coupon.Amount) / 100
		} else {
			couponAmount = coupon.Amount
		}
		running -= couponAmount
	}

	return Summary{
		Subtotal:       subtotal,
		BulkDiscount:   bulk,
		CouponDiscount: couponAmount,
		DiscountTotal:  subtotal - running,
		Shipping:       shipping,
		Tax:            tax,
		Total:          running + shipping + tax,
	}
}

// Servings reports the combined quantity of recipe-kind items.
func Servings(items []Item) int {
	var n int
	for _, it := range items {
		if it.Kind == KindRecipe && it.Qty > 0 {
			n += it.Qty
		}
	}
	return n
}

// Quantity reports the combined quantity across all items regardless of kind.
func Quantity(items []Item) int {
	var n int
	for _, it := range items {
		if it.Qty > 0 {
			n += it.Qty
		}
	}
	return n
}
