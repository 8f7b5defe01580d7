package discount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-mealkit/internal/cart"
	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/events"
)

// ErrNoGrant is returned by stores when no matching grant exists.
var ErrNoGrant = errors.New("discount: grant not found")

// GrantStore is the persistence surface for discounts and grants.
type GrantStore interface {
	GetDiscountByCodename(ctx context.Context, codename string) (Discount, error)
	GetDiscount(ctx context.Context, id uuid.UUID) (Discount, error)
	// DeleteUnredeemedByCustomer removes every unredeemed grant for the
	// customer, across all discounts.
	DeleteUnredeemedByCustomer(ctx context.Context, customerID uuid.UUID) error
	CreateGrant(ctx context.Context, grant *Grant) error
	GetGrant(ctx context.Context, id uuid.UUID) (Grant, error)
	UpdateGrant(ctx context.Context, grant Grant) error
	// ActiveGrantForChild returns the newest active unredeemed grant for
	// the (customer, child) pair, or ErrNoGrant.
	ActiveGrantForChild(ctx context.Context, customerID, childID uuid.UUID) (Grant, error)
}

// OrderCounter supplies the order history the nth-time-subscriber rule
// evaluates against.
type OrderCounter interface {
	CountOrdersForChild(ctx context.Context, childID uuid.UUID) (int, error)
}

// Locker is the mutual-exclusion surface the service needs; satisfied
// by lock.Locker.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service materializes grants from eligibility evaluation. Creation for
// one customer is serialised behind a distributed lock so concurrent
// submissions cannot both supersede and create, leaving duplicate
// unredeemed grants.
type Service struct {
	Grants          GrantStore
	Orders          OrderCounter
	Locker          Locker
	LockTTL         time.Duration
	Logger          zerolog.Logger
	Now             func() time.Time
	DefaultPerGrant int
}

// Evaluate applies the discount to the customer's carts and returns the
// grants created. The supplied cart order matters: fixed-amount
// discounts only ever apply to the first cart.
func (s *Service) Evaluate(ctx context.Context, d *Discount, cust customer.Customer, carts []cart.Cart) ([]Grant, error) {
	if s == nil || s.Grants == nil {
		return nil, errors.New("discount: service not configured")
	}
	if d == nil || len(carts) == 0 {
		return nil, ErrInvalidRequest
	}
	ctx, span := otel.Tracer("discount.Service").Start(ctx, "DiscountService.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("discount.codename", d.Codename),
		attribute.String("customer.id", cust.ID.String()),
		attribute.Int("carts", len(carts)),
	)

	var grants []Grant
	evaluate := func(ctx context.Context) error {
		created, err := s.evaluateLocked(ctx, d, cust, carts)
		grants = created
		return err
	}
	if s.Locker == nil {
		return grants, evaluate(ctx)
	}
	key := fmt.Sprintf("discount:grant:%s", cust.ID)
	if err := s.Locker.WithLock(ctx, key, s.LockTTL, evaluate); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *Service) evaluateLocked(ctx context.Context, d *Discount, cust customer.Customer, carts []cart.Cart) ([]Grant, error) {
	// Supersede: any prior unredeemed grant dies before new eligibility
	// is considered, keeping at most one live grant per customer.
	if err := s.Grants.DeleteUnredeemedByCustomer(ctx, cust.ID); err != nil {
		return nil, fmt.Errorf("supersede grants: %w", err)
	}

	scoped := carts
	if d.Kind == KindFixedAmount {
		scoped = carts[:1]
	}

	var pending []Grant
	for _, c := range scoped {
		priorOrders, err := s.Orders.CountOrdersForChild(ctx, c.ChildID)
		if err != nil {
			return nil, fmt.Errorf("count orders for child %s: %w", c.ChildID, err)
		}
		result := Evaluate(*d, Candidate{Cart: c, PriorOrderCount: priorOrders})
		if !result.Eligible {
			continue
		}
		limit := result.RedemptionLimit
		if limit <= 0 {
			limit = s.DefaultPerGrant
		}
		if limit <= 0 {
			limit = 1
		}
		pending = append(pending, Grant{
			ID:              uuid.New(),
			DiscountID:      d.ID,
			CustomerID:      cust.ID,
			ChildID:         c.ChildID,
			Status:          GrantUnredeemed,
			RedemptionLimit: limit,
			IsActive:        true,
			AppliedAt:       s.now(),
		})
	}

	if d.ReferrerCustomerID != nil && *d.ReferrerCustomerID == cust.ID {
		return nil, ErrOwnReferral
	}
	if len(pending) == 0 {
		return nil, ErrNoEligibleCarts
	}

	for i := range pending {
		if err := s.Grants.CreateGrant(ctx, &pending[i]); err != nil {
			return nil, fmt.Errorf("create grant: %w", err)
		}
	}
	s.Logger.Info().
		Str("discount", d.Codename).
		Str("customer_id", cust.ID.String()).
		Int("grants", len(pending)).
		Msg("discount grants created")
	return pending, nil
}

// Redeem consumes one redemption on the grant and persists the result.
func (s *Service) Redeem(ctx context.Context, grantID uuid.UUID) (Grant, error) {
	grant, err := s.Grants.GetGrant(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	if err := grant.Redeem(s.now()); err != nil {
		return grant, err
	}
	if err := s.Grants.UpdateGrant(ctx, grant); err != nil {
		return grant, err
	}
	return grant, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RedemptionNotifier redeems an order's applied grant when the order
// transitions to paid. Redemption past the limit is ignored so repeated
// deliveries of the same event stay idempotent in effect.
type RedemptionNotifier struct {
	Service *Service
	Logger  zerolog.Logger
}

// Notify implements events.Notifier.
func (n RedemptionNotifier) Notify(ctx context.Context, effect events.Effect) error {
	if effect.Topic != events.TopicOrderPaid {
		return nil
	}
	raw, ok := effect.Payload["grantId"].(string)
	if !ok || raw == "" {
		return nil
	}
	grantID, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse grant id: %w", err)
	}
	if _, err := n.Service.Redeem(ctx, grantID); err != nil {
		if errors.Is(err, ErrGrantExhausted) {
			return nil
		}
		n.Logger.Error().Err(err).Str("grant_id", raw).Msg("redeem grant")
		return err
	}
	return nil
}
