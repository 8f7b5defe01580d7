package customer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Customer is the paying account. Identity and profile management live
// in the surrounding system; the billing core only reads.
type Customer struct {
	ID                 uuid.UUID
	Email              string
	GatewayCustomerRef string
}

// Child is the subscription recipient. Each child owns one cart and at
// most one subscription.
type Child struct {
	ID       uuid.UUID
	ParentID uuid.UUID
	Name     string
}

// Address is a shipping destination.
type Address struct {
	ID     uuid.UUID
	Street string
	City   string
	State  string
	Zip    string
}

// Complete reports whether all fields needed to ship an order are present.
func (a Address) Complete() bool {
	return strings.TrimSpace(a.Street) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.State) != "" &&
		strings.TrimSpace(a.Zip) != ""
}

// PaymentMethod is a tokenized card on file with the payment gateway.
type PaymentMethod struct {
	ID                    uuid.UUID
	CustomerID            uuid.UUID
	GatewayToken          string
	LastFour              string
	IsValid               bool
	SetupForFutureCharges bool
	CreatedAt             time.Time
}

// Subscription drives recurring order creation for one child.
type Subscription struct {
	ID                  uuid.UUID
	ChildID             uuid.UUID
	IsActive            bool
	NextOrderChargeDate time.Time
	IntervalDays        int
}

// AdvanceOrderDates moves the next charge date forward by the
// subscription interval, defaulting to weekly.
func (s *Subscription) AdvanceOrderDates(now time.Time) {
	interval := s.IntervalDays
	if interval <= 0 {
		interval = 7
	}
	next := s.NextOrderChargeDate
	if next.IsZero() {
		next = now
	}
	for !next.After(now) {
		next = next.AddDate(0, 0, interval)
	}
	s.NextOrderChargeDate = next
}

// Store is the read surface the billing core needs for customer data.
type Store interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error)
	GetChild(ctx context.Context, id uuid.UUID) (Child, error)
	FirstAddress(ctx context.Context, customerID uuid.UUID) (Address, error)
	GetAddress(ctx context.Context, id uuid.UUID) (Address, error)
	// LatestChargeablePaymentMethod returns the customer's most recently
	// created valid method enabled for future charges.
	LatestChargeablePaymentMethod(ctx context.Context, customerID uuid.UUID) (PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id uuid.UUID) (PaymentMethod, error)
}

// SubscriptionStore is the surface used by the recurring billing sweep.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error)
	ListDueSubscriptions(ctx context.Context, day time.Time, limit int) ([]Subscription, error)
	UpdateSubscriptionDates(ctx context.Context, sub Subscription) error
}
