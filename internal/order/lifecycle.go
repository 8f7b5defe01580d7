package order

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/events"
	"github.com/noah-isme/backend-mealkit/internal/gateway"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/storefront"
)

// Lifecycle drives orders between payment statuses. Each transition
// mutates the aggregate in memory and returns the effects to run once
// the new state has been persisted; the caller (Service) owns locking,
// persistence, and effect dispatch.
type Lifecycle struct {
	Gateway    gateway.Gateway
	Storefront storefront.Client
	Now        func() time.Time
	Logger     zerolog.Logger
}

func (l *Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// Charge captures the order total. Legal only from pending while the
// order is not cancelled. Zero-total orders are marked paid without
// touching the gateway. A gateway failure records the message on the
// order and leaves it pending; the caller decides whether to retry.
func (l *Lifecycle) Charge(ctx context.Context, o *Order, cust customer.Customer, pm customer.PaymentMethod) ([]events.Effect, error) {
	if o.PaymentStatus != PaymentPending || o.FulfillmentStatus == FulfillmentCancelled {
		err := &ErrIllegalTransition{From: o.PaymentStatus, To: PaymentPaid}
		l.Logger.Error().Err(err).Str("order_id", o.ID.String()).
			Str("fulfillment", string(o.FulfillmentStatus)).
			Msg("charge refused")
		return nil, err
	}

	if o.Total > 0 {
		res, err := l.Gateway.Charge(ctx, gateway.ChargeRequest{
			CustomerRef:        cust.GatewayCustomerRef,
			PaymentMethodToken: pm.GatewayToken,
			Amount:             o.Total,
			Currency:           "usd",
			IdempotencyKey:     "charge-" + o.ID.String(),
		})
		if err != nil {
			o.ChargeFailureMessage = err.Error()
			return nil, fmt.Errorf("charge order %s: %w", o.ID, err)
		}
		o.GatewayChargeRef = res.TransactionID
		o.ChargedAmount = res.CapturedAmount
	}

	now := l.now()
	o.PaymentStatus = PaymentPaid
	o.PaidAt = &now
	o.ChargeFailureMessage = ""
	o.EmailStatus = EmailQueued

	effects := []events.Effect{
		{Topic: events.TopicOrderPaid, AggregateID: o.ID, Payload: paidPayload(o)},
		{Topic: events.TopicConfirmationEmail, AggregateID: o.ID, Payload: map[string]any{
			"email": cust.Email,
		}},
		{Topic: events.TopicTaxRecorded, AggregateID: o.ID, Payload: map[string]any{
			"amount": o.Total,
		}},
	}
	return effects, nil
}

func paidPayload(o *Order) map[string]any {
	p := map[string]any{
		"customerId": o.CustomerID.String(),
		"total":      o.Total,
	}
	if o.GrantID != nil {
		p["grantId"] = o.GrantID.String()
	}
	return p
}

// Refund returns the full remaining captured amount. Legal from paid
// only; terminal once done.
func (l *Lifecycle) Refund(ctx context.Context, o *Order, reason string) ([]events.Effect, error) {
	if !CanTransitionPayment(o.PaymentStatus, PaymentRefunded) {
		err := &ErrIllegalTransition{From: o.PaymentStatus, To: PaymentRefunded}
		l.Logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("refund refused")
		return nil, err
	}
	amount := o.Refundable()
	if amount > 0 {
		if _, err := l.Gateway.Refund(ctx, gateway.RefundRequest{
			TransactionID: o.GatewayChargeRef,
			Amount:        amount,
			Reason:        reason,
		}); err != nil {
			return nil, fmt.Errorf("refund order %s: %w", o.ID, err)
		}
	}
	now := l.now()
	o.PaymentStatus = PaymentRefunded
	o.AmountRefunded += amount
	o.RefundedAt = &now

	return []events.Effect{
		{Topic: events.TopicOrderRefunded, AggregateID: o.ID, Payload: map[string]any{
			"amount": amount,
		}},
		{Topic: events.TopicTaxRefundRecorded, AggregateID: o.ID, Payload: map[string]any{
			"amount": amount,
		}},
	}, nil
}

// PartiallyRefund returns part of the captured amount. Repeatable while
// something refundable remains.
func (l *Lifecycle) PartiallyRefund(ctx context.Context, o *Order, amount pricing.Money, reason string) ([]events.Effect, error) {
	if !CanTransitionPayment(o.PaymentStatus, PaymentPartiallyRefunded) {
		err := &ErrIllegalTransition{From: o.PaymentStatus, To: PaymentPartiallyRefunded}
		l.Logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("partial refund refused")
		return nil, err
	}
	if amount <= 0 || amount > o.Refundable() {
		return nil, fmt.Errorf("order: partial refund amount %d out of range (refundable %d)", amount, o.Refundable())
	}
	if _, err := l.Gateway.Refund(ctx, gateway.RefundRequest{
		TransactionID: o.GatewayChargeRef,
		Amount:        amount,
		Reason:        reason,
	}); err != nil {
		return nil, fmt.Errorf("partially refund order %s: %w", o.ID, err)
	}
	o.PaymentStatus = PaymentPartiallyRefunded
	o.AmountRefunded += amount
	o.PartialRefundPending = 0

	return []events.Effect{
		{Topic: events.TopicOrderPartiallyRefunded, AggregateID: o.ID, Payload: map[string]any{
			"amount": amount,
		}},
		{Topic: events.TopicTaxRefundRecorded, AggregateID: o.ID, Payload: map[string]any{
			"amount": amount,
		}},
	}, nil
}

// Cancel stops fulfillment through the storefront. The storefront call
// happens first: if it fails the order stays exactly as it was.
func (l *Lifecycle) Cancel(ctx context.Context, o *Order) ([]events.Effect, error) {
	if o.FulfillmentStatus == FulfillmentCancelled {
		return nil, nil
	}
	if err := l.Storefront.CancelOrder(ctx, o.ID); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", o.ID, err)
	}
	now := l.now()
	o.FulfillmentStatus = FulfillmentCancelled
	o.CancelledAt = &now

	return []events.Effect{
		{Topic: events.TopicOrderCancelled, AggregateID: o.ID, Payload: map[string]any{
			"customerId": o.CustomerID.String(),
		}},
	}, nil
}
