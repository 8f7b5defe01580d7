package order

import "fmt"

// PaymentStatus tracks how far an order has travelled through the payment
// side of its lifecycle. Transitions are guarded; see CanTransitionPayment.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// FulfillmentStatus mirrors the storefront side of the order.
type FulfillmentStatus string

const (
	FulfillmentPending            FulfillmentStatus = "pending"
	FulfillmentFulfilled          FulfillmentStatus = "fulfilled"
	FulfillmentPartiallyFulfilled FulfillmentStatus = "partially_fulfilled"
	FulfillmentCancelled          FulfillmentStatus = "cancelled"
)

// SyncStatus records whether the order has been pushed to the storefront.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// EmailStatus records whether the confirmation email has been queued.
type EmailStatus string

const (
	EmailUnsent EmailStatus = "unsent"
	EmailQueued EmailStatus = "queued"
	EmailSent   EmailStatus = "sent"
)

// ErrIllegalTransition is returned when a lifecycle operation is invoked on
// an order whose current status does not permit it.
type ErrIllegalTransition struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("order: illegal payment transition %s -> %s", e.From, e.To)
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentPaid, PaymentFailed, PaymentPartiallyRefunded},
	PaymentPaid:              {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentPartiallyRefunded: {PaymentPartiallyRefunded},
}

// CanTransitionPayment reports whether from -> to is a legal payment move.
// Partial refunds may repeat and may start from a pending order whose
// deposit was collected out of band; a full refund is only reachable
// from paid and is terminal.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
