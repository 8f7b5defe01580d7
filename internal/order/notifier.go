package order

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/events"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/storefront"
	"github.com/noah-isme/backend-mealkit/internal/tax"
)

// SyncNotifier mirrors payment outcomes to the storefront. It is
// registered on the event bus so syncing happens after the order state
// is durably persisted; a failed sync leaves the order's sync status at
// failed for the next delivery to retry.
type SyncNotifier struct {
	Orders     Store
	Customers  customer.Store
	Storefront storefront.Client
	Logger     zerolog.Logger
}

func (n *SyncNotifier) Notify(ctx context.Context, effect events.Effect) error {
	switch effect.Topic {
	case events.TopicOrderPaid:
		return n.syncPaid(ctx, effect)
	case events.TopicOrderRefunded:
		return n.syncRefund(ctx, effect, false)
	case events.TopicOrderPartiallyRefunded:
		return n.syncRefund(ctx, effect, true)
	default:
		return nil
	}
}

func (n *SyncNotifier) syncPaid(ctx context.Context, effect events.Effect) error {
	o, err := n.Orders.Get(ctx, effect.AggregateID)
	if err != nil {
		return fmt.Errorf("load order for sync: %w", err)
	}
	cust, err := n.Customers.GetCustomer(ctx, o.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer for sync: %w", err)
	}
	if err := n.Storefront.SyncOrder(ctx, storefront.OrderSync{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		Email:       cust.Email,
		AmountTotal: o.Total,
	}); err != nil {
		n.markSync(ctx, o, SyncFailed)
		return fmt.Errorf("sync order %s: %w", o.ID, err)
	}
	n.markSync(ctx, o, SyncSynced)
	return nil
}

func (n *SyncNotifier) syncRefund(ctx context.Context, effect events.Effect, partial bool) error {
	amount, ok := payloadMoney(effect.Payload, "amount")
	if !ok {
		return fmt.Errorf("refund sync for %s: payload has no amount", effect.AggregateID)
	}
	if err := n.Storefront.SyncRefund(ctx, storefront.RefundSync{
		OrderID: effect.AggregateID,
		Amount:  amount,
		Partial: partial,
	}); err != nil {
		return fmt.Errorf("sync refund for %s: %w", effect.AggregateID, err)
	}
	return nil
}

func (n *SyncNotifier) markSync(ctx context.Context, o *Order, status SyncStatus) {
	o.SyncStatus = status
	if err := n.Orders.Update(ctx, o); err != nil {
		n.Logger.Error().Err(err).Str("order_id", o.ID.String()).
			Msg("recording sync status failed")
	}
}

// TaxNotifier commits tax amounts to the tax ledger once the order
// state that produced them is durable. Failed recordings surface as
// delivery errors so the bus retry path can replay them.
type TaxNotifier struct {
	Tax tax.Calculator
}

func (n *TaxNotifier) Notify(ctx context.Context, effect events.Effect) error {
	if effect.Topic != events.TopicTaxRecorded && effect.Topic != events.TopicTaxRefundRecorded {
		return nil
	}
	amount, ok := payloadMoney(effect.Payload, "amount")
	if !ok {
		return fmt.Errorf("tax record for %s: payload has no amount", effect.AggregateID)
	}
	if effect.Topic == events.TopicTaxRecorded {
		if err := n.Tax.RecordPurchase(ctx, effect.AggregateID, amount); err != nil {
			return fmt.Errorf("record tax for %s: %w", effect.AggregateID, err)
		}
		return nil
	}
	if err := n.Tax.RecordRefund(ctx, effect.AggregateID, amount); err != nil {
		return fmt.Errorf("record tax refund for %s: %w", effect.AggregateID, err)
	}
	return nil
}

// payloadMoney reads a minor-unit amount out of an effect payload,
// tolerating the float64 shape produced by a JSON round trip.
func payloadMoney(payload map[string]any, key string) (pricing.Money, bool) {
	switch v := payload[key].(type) {
	case pricing.Money:
		return v, true
	case int:
		return pricing.Money(v), true
	case float64:
		return pricing.Money(v), true
	default:
		return 0, false
	}
}
