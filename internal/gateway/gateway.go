package gateway

import (
	"context"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// ChargeRequest captures the information needed to capture a payment.
type ChargeRequest struct {
	CustomerRef        string
	PaymentMethodToken string
	Amount             pricing.Money
	Currency           string
	IdempotencyKey     string
}

// ChargeResult is the normalised outcome of a successful charge.
type ChargeResult struct {
	TransactionID  string
	CapturedAmount pricing.Money
	Succeeded      bool
}

// RefundRequest identifies a prior charge to return money against.
type RefundRequest struct {
	TransactionID string
	Amount        pricing.Money
	Reason        string
}

// RefundResult is the normalised outcome of a refund.
type RefundResult struct {
	TransactionID  string
	RefundedAmount pricing.Money
}

// Gateway abstracts the operations the order lifecycle requires from a
// payment processor. Implementations classify their failures through
// *Error so the retry policy can distinguish retryable from terminal.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	AttachPaymentMethod(ctx context.Context, customerRef, paymentMethodToken string) error
}
