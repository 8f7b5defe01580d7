package discount

import (
	"errors"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mealkit/internal/cart"
)

var (
	// ErrInvalidRequest is returned when evaluation is attempted without
	// a discount or without at least one cart.
	ErrInvalidRequest = errors.New("discount: a discount and at least one cart are required")
	// ErrOwnReferral is returned when a customer tries to apply their own
	// referral code.
	ErrOwnReferral = errors.New("discount: referrer cannot apply their own discount")
	// ErrNoEligibleCarts is returned when no cart passed the discount's
	// rules.
	ErrNoEligibleCarts = errors.New("discount: no carts are eligible for this discount")
)

// Candidate is one cart under evaluation together with the order history
// the nth-time-subscriber rule needs.
type Candidate struct {
	Cart            cart.Cart
	PriorOrderCount int
}

// Eligibility is the per-cart outcome of rule evaluation.
type Eligibility struct {
	Eligible bool
	// RedemptionLimit is nonzero when an order-count-ceiling rule caps
	// how often the resulting grant may be redeemed.
	RedemptionLimit int
}

// Evaluate runs the discount's active rules against one candidate cart.
// Rules combine with AND semantics and evaluation short-circuits on the
// first failing rule. A discount with no active rules is eligible
// whenever the discount itself is active.
func Evaluate(d Discount, c Candidate) Eligibility {
	var out Eligibility
	active := activeRules(d.Rules)
	if len(active) == 0 {
		out.Eligible = d.IsActive
		return out
	}
	for _, rule := range active {
		switch rule.Type {
		case RuleMinimumCartAmount:
			out.Eligible = c.Cart.Subtotal() >= rule.MinimumCartAmount
		case RuleCustomerMembership:
			out.Eligible = containsID(rule.CustomerIDs, c.Cart.CustomerID)
		case RuleProductMembership:
			out.Eligible = c.Cart.ContainsProduct(rule.ProductIDs)
		case RuleNthTimeSubscriber:
			out.Eligible = c.PriorOrderCount+1 == rule.NthTimeSubscriber
		case RuleOrderCountCeiling:
			out.Eligible = true
			out.RedemptionLimit = rule.NumberOfOrders
		default:
			out.Eligible = false
		}
		if !out.Eligible {
			return Eligibility{}
		}
	}
	return out
}

func activeRules(rules []Rule) []Rule {
	out := rules[:0:0]
	for _, r := range rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
