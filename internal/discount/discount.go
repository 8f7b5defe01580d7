package discount

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// Kind determines how a discount's amount is interpreted.
type Kind string

const (
	// KindPercentage takes Amount as whole percent off the running subtotal.
	KindPercentage Kind = "percentage"
	// KindFixedAmount takes Amount as minor units off the running subtotal.
	KindFixedAmount Kind = "fixed_amount"
)

// RuleType enumerates the eligibility rules a discount can carry.
type RuleType string

const (
	RuleMinimumCartAmount  RuleType = "minimum_cart_amount"
	RuleProductMembership  RuleType = "product_membership"
	RuleCustomerMembership RuleType = "customer_membership"
	RuleNthTimeSubscriber  RuleType = "nth_time_subscriber"
	RuleOrderCountCeiling  RuleType = "order_count_ceiling"
)

// Rule is one eligibility constraint. Active rules on a discount
// combine with AND semantics.
type Rule struct {
	ID                uuid.UUID
	Type              RuleType
	MinimumCartAmount pricing.Money
	ProductIDs        []uuid.UUID
	CustomerIDs       []uuid.UUID
	NthTimeSubscriber int
	NumberOfOrders    int
	IsActive          bool
}

// Discount is a redeemable promotion identified by a case-insensitive
// codename. A discount owned by a referrer cannot be applied by the
// referrer themselves.
type Discount struct {
	ID                 uuid.UUID
	Codename           string
	Kind               Kind
	Amount             pricing.Money
	IsActive           bool
	ReferrerCustomerID *uuid.UUID
	Rules              []Rule
}

// Coupon converts the discount into calculator input.
func (d Discount) Coupon() *pricing.Coupon {
	return &pricing.Coupon{Percentage: d.Kind == KindPercentage, Amount: d.Amount}
}

// GrantStatus tracks whether a grant has been consumed.
type GrantStatus string

const (
	GrantUnredeemed GrantStatus = "unredeemed"
	GrantRedeemed   GrantStatus = "redeemed"
)

// ErrGrantExhausted is returned when redeeming a grant whose redemption
// limit has already been reached.
var ErrGrantExhausted = errors.New("discount: grant redemption limit reached")

// Grant is a customer discount: the redeemable instance of a Discount
// assigned to one (customer, child) pair. At most one unredeemed grant
// exists per customer at a time.
type Grant struct {
	ID              uuid.UUID
	DiscountID      uuid.UUID
	CustomerID      uuid.UUID
	ChildID         uuid.UUID
	Status          GrantStatus
	RedemptionCount int
	RedemptionLimit int
	IsActive        bool
	AppliedAt       time.Time
	RedeemedAt      *time.Time
}

// Redeem consumes one redemption. Once the count reaches the limit the
// grant becomes permanently inactive; further redemptions fail without
// touching the counters.
func (g *Grant) Redeem(now time.Time) error {
	if !g.IsActive {
		return ErrGrantExhausted
	}
	g.RedemptionCount++
	g.Status = GrantRedeemed
	g.RedeemedAt = &now
	if g.RedemptionLimit > 0 && g.RedemptionCount >= g.RedemptionLimit {
		g.IsActive = false
	}
	return nil
}
