package events

// Topic constants for domain events emitted by the billing core.
const (
	TopicOrderPlaced            = "order.placed"
	TopicOrderPaid              = "order.paid"
	TopicOrderRefunded          = "order.refunded"
	TopicOrderPartiallyRefunded = "order.partially_refunded"
	TopicOrderCancelled         = "order.cancelled"
	TopicPaymentFailed          = "payment.failed"
	TopicConfirmationEmail      = "order.confirmation_email"
	TopicTaxRecorded            = "tax.recorded"
	TopicTaxRefundRecorded      = "tax.refund_recorded"
)

// DefaultTopics returns the canonical list of topics downstream
// notifiers may subscribe to.
func DefaultTopics() []string {
	return []string{
		TopicOrderPlaced,
		TopicOrderPaid,
		TopicOrderRefunded,
		TopicOrderPartiallyRefunded,
		TopicOrderCancelled,
		TopicPaymentFailed,
		TopicConfirmationEmail,
		TopicTaxRecorded,
		TopicTaxRefundRecorded,
	}
}
