package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/events"
	"github.com/noah-isme/backend-mealkit/internal/gateway"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// DefaultMaxChargeAttempts is how many times an order may be picked up
// for charging before it is forced to failed.
const DefaultMaxChargeAttempts = 10

// ErrAlreadyCharged is returned when a charge request races a completed
// one; the order is already paid and nothing was done.
var ErrAlreadyCharged = errors.New("order: already charged")

// Locker is the mutual-exclusion surface the service needs; satisfied
// by lock.Locker.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service wraps lifecycle transitions with the per-order lock, persists
// the resulting state, and only then dispatches the returned effects.
type Service struct {
	Orders            Store
	Customers         customer.Store
	Lifecycle         *Lifecycle
	Bus               *events.Bus
	Locker            Locker
	LockTTL           time.Duration
	MaxChargeAttempts int
	Logger            zerolog.Logger
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 30 * time.Second
}

func (s *Service) maxAttempts() int {
	if s.MaxChargeAttempts > 0 {
		return s.MaxChargeAttempts
	}
	return DefaultMaxChargeAttempts
}

func chargeKey(orderID uuid.UUID) string { return "order:charge:" + orderID.String() }

// Charge captures payment for one order under its lock. The attempt
// counter is incremented and persisted before the gateway is invoked so
// a crash mid-charge still burns an attempt. Orders at the attempt
// ceiling are forced to failed without touching the gateway.
func (s *Service) Charge(ctx context.Context, orderID uuid.UUID) error {
	return s.Locker.WithLock(ctx, chargeKey(orderID), s.lockTTL(), func(ctx context.Context) error {
		return s.chargeLocked(ctx, orderID)
	})
}

// TryCharge is Charge for sweeps: if another worker holds the order's
// lock it returns lock.ErrNotAcquired instead of waiting.
func (s *Service) TryCharge(ctx context.Context, orderID uuid.UUID) error {
	return s.Locker.TryWithLock(ctx, chargeKey(orderID), s.lockTTL(), func(ctx context.Context) error {
		return s.chargeLocked(ctx, orderID)
	})
}

func (s *Service) chargeLocked(ctx context.Context, orderID uuid.UUID) error {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if o.PaymentStatus == PaymentPaid {
		return ErrAlreadyCharged
	}
	if o.PaymentStatus == PaymentPending && o.ChargeAttempts >= s.maxAttempts() {
		return s.forceFailed(ctx, o)
	}

	o.ChargeAttempts++
	if err := s.Orders.Update(ctx, o); err != nil {
		return fmt.Errorf("record charge attempt: %w", err)
	}

	cust, err := s.Customers.GetCustomer(ctx, o.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer: %w", err)
	}
	pm, err := s.Customers.GetPaymentMethod(ctx, o.PaymentMethodID)
	if err != nil {
		return fmt.Errorf("load payment method: %w", err)
	}

	effects, chargeErr := s.Lifecycle.Charge(ctx, o, cust, pm)
	if chargeErr != nil {
		if updateErr := s.Orders.Update(ctx, o); updateErr != nil {
			s.Logger.Error().Err(updateErr).
				Str("order_id", o.ID.String()).
				Msg("persisting charge failure state failed")
		}
		if gateway.IsTerminal(chargeErr) {
			s.Logger.Error().Err(chargeErr).
				Str("order_id", o.ID.String()).
				Int("attempts", o.ChargeAttempts).
				Msg("terminal charge failure")
		}
		return chargeErr
	}

	if err := s.Orders.Update(ctx, o); err != nil {
		// Money moved but the row did not: surface loudly with the
		// gateway reference so a human can reconcile.
		s.Logger.Error().Err(err).
			Str("order_id", o.ID.String()).
			Str("gateway_charge_ref", o.GatewayChargeRef).
			Msg("charged but order state not persisted")
		return fmt.Errorf("persist charged order %s (gateway ref %s): %w", o.ID, o.GatewayChargeRef, err)
	}
	return s.dispatch(ctx, effects)
}

func (s *Service) forceFailed(ctx context.Context, o *Order) error {
	o.PaymentStatus = PaymentFailed
	if o.ChargeFailureMessage == "" {
		o.ChargeFailureMessage = fmt.Sprintf("charge attempt limit reached (%d)", o.ChargeAttempts)
	}
	if err := s.Orders.Update(ctx, o); err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}
	return s.dispatch(ctx, []events.Effect{{
		Topic:       events.TopicPaymentFailed,
		AggregateID: o.ID,
		Payload: map[string]any{
			"customerId": o.CustomerID.String(),
			"attempts":   o.ChargeAttempts,
			"message":    o.ChargeFailureMessage,
		},
	}})
}

// Refund returns the order's full remaining captured amount.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.Locker.WithLock(ctx, chargeKey(orderID), s.lockTTL(), func(ctx context.Context) error {
		o, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		effects, err := s.Lifecycle.Refund(ctx, o, reason)
		if err != nil {
			return err
		}
		if err := s.Orders.Update(ctx, o); err != nil {
			return fmt.Errorf("persist refunded order: %w", err)
		}
		return s.dispatch(ctx, effects)
	})
}

// PartiallyRefund returns part of the captured amount; callable again
// while a refundable balance remains.
func (s *Service) PartiallyRefund(ctx context.Context, orderID uuid.UUID, amount pricing.Money, reason string) error {
	return s.Locker.WithLock(ctx, chargeKey(orderID), s.lockTTL(), func(ctx context.Context) error {
		o, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		effects, err := s.Lifecycle.PartiallyRefund(ctx, o, amount, reason)
		if err != nil {
			return err
		}
		if err := s.Orders.Update(ctx, o); err != nil {
			return fmt.Errorf("persist partially refunded order: %w", err)
		}
		return s.dispatch(ctx, effects)
	})
}

// Cancel stops fulfillment via the storefront.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID) error {
	return s.Locker.WithLock(ctx, chargeKey(orderID), s.lockTTL(), func(ctx context.Context) error {
		o, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		effects, err := s.Lifecycle.Cancel(ctx, o)
		if err != nil {
			return err
		}
		if len(effects) == 0 {
			return nil
		}
		if err := s.Orders.Update(ctx, o); err != nil {
			return fmt.Errorf("persist cancelled order: %w", err)
		}
		return s.dispatch(ctx, effects)
	})
}

func (s *Service) dispatch(ctx context.Context, effects []events.Effect) error {
	if len(effects) == 0 {
		return nil
	}
	if err := s.Bus.Dispatch(ctx, effects); err != nil {
		s.Logger.Error().Err(err).Msg("effect dispatch incomplete")
		return err
	}
	return nil
}
